package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/taskpool/core"
)

func TestHub_Publish(t *testing.T) {
	hub := NewHub(core.NopLogger{})
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(core.EventTaskCompleted, map[string]string{"task_id": "t1"})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if assert.NoError(t, err) {
		var evt struct {
			ID   string            `json:"id"`
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		}
		assert.NoError(t, json.Unmarshal(msg, &evt))
		assert.Equal(t, core.EventTaskCompleted, evt.Type)
		assert.Equal(t, "t1", evt.Data["task_id"])
		assert.Len(t, evt.ID, 26)
	}
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(core.NopLogger{})
	go hub.Run()
	hub.Stop()
	assert.NotPanics(t, func() { hub.Publish(core.EventTasksExpired, nil) })
}
