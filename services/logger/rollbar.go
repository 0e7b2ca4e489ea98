package logsvc

import (
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/user"
)

type RollbarLogger struct {
	console *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger reports to rollbar and writes to a console logger named after the component (API, JOBS, ...).
func NewRollbarLogger(component string, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && conf.RollbarToken != "")
	return &RollbarLogger{console: NewConsole(component, conf.Debug)}
}

// NewConsole builds the zap sugared logger used as console sink.
func NewConsole(component string, debug bool) *zap.SugaredLogger {
	var zl *zap.Logger
	var err error
	if debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		zl = zap.NewNop()
	}
	return zl.Named(component).Sugar()
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

func (l RollbarLogger) Sync() {
	_ = l.console.Sync()
	rollbar.Wait()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) (rbArgs []interface{}, kv []interface{}) {
	var usrSet bool
	rbArgs = make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	for _, arg := range args {
		// set logged in User
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
			kv = append(kv, "user", usr.Username)
			continue
		}
		rbArgs = append(rbArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, append(kv, pairs(args)...)
}

// pairs turns loose args into zap key/value pairs.
func pairs(args []interface{}) []interface{} {
	kv := make([]interface{}, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case user.User:
		case string:
			if i+1 < len(args) {
				kv = append(kv, v, args[i+1])
				i++
			} else {
				kv = append(kv, "arg", v)
			}
		case error:
			kv = append(kv, "error", v)
		case map[string]interface{}:
			for k, val := range v {
				kv = append(kv, k, val)
			}
		default:
			kv = append(kv, "arg", v)
		}
	}
	return kv
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rb, kv := l.prepare(msg, args)
	rollbar.Debug(rb...)
	l.console.Debugw(msg, kv...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rb, kv := l.prepare(msg, args)
	rollbar.Info(rb...)
	l.console.Infow(msg, kv...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rb, kv := l.prepare(msg, args)
	rollbar.Warning(rb...)
	l.console.Warnw(msg, kv...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rb, kv := l.prepare(msg, args)
	rollbar.Error(rb...)
	l.console.Errorw(msg, kv...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rb, kv := l.prepare(msg, args)
	rollbar.Critical(rb...)
	rollbar.Wait()
	l.console.Fatalw(msg, kv...)
}
