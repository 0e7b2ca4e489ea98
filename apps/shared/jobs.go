package shared

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/services/scheduler"
)

// Job names
const (
	JobExpirySweep      = "expiry-sweep"
	JobBonusDaily       = "bonus-daily"
	JobBonusExpired     = "bonus-expired"
	JobBonusAutoConfirm = "bonus-auto-confirm"
	JobDailyDigest      = "daily-digest"
)

// RegisterJobs adds the periodic jobs to s.
func RegisterJobs(s *scheduler.Scheduler, svcs *Services) {
	jobs := svcs.Conf.Jobs
	s.Add(JobExpirySweep, jobs.SweepInterval, func(ctx context.Context) error {
		_, err := svcs.Subsidies.Sweep(ctx)
		return err
	})
	s.Add(JobBonusDaily, jobs.BonusDailyInterval, func(ctx context.Context) error {
		_, err := svcs.Bonus.RunDaily(ctx)
		return err
	})
	s.Add(JobBonusExpired, jobs.BonusExpiryInterval, func(ctx context.Context) error {
		_, err := svcs.Bonus.ProcessExpired(ctx)
		return err
	})
	s.Add(JobBonusAutoConfirm, jobs.AutoConfirmInterval, func(ctx context.Context) error {
		_, err := svcs.Bonus.AutoConfirm(ctx)
		return err
	})
	s.Add(JobDailyDigest, jobs.DigestInterval, svcs.SendDailyDigest)
}

type (
	digestBonus struct {
		Exists            bool
		TotalAmount       string
		GeneratedAmount   string
		RemainingAmount   string
		QualifiedStudents int
	}

	digestData struct {
		Date  string
		Stats subsidy.Stats
		Bonus digestBonus
	}
)

// SendDailyDigest emails the subsidy and bonus pool figures of today to the report recipients.
func (svcs *Services) SendDailyDigest(ctx context.Context) error {
	if len(svcs.Conf.Reports.Recipients) == 0 {
		return nil
	}
	stats, err := svcs.Subsidies.Stats(ctx)
	if err != nil {
		return errors.Wrap(err, "subsidy stats")
	}
	today := svcs.Bonus.Today()
	st, err := svcs.Bonus.Status(ctx, today)
	if err != nil {
		return errors.Wrap(err, "bonus status")
	}

	data := digestData{
		Date:  today.Format("2006-01-02"),
		Stats: stats,
		Bonus: digestBonus{
			Exists:            st.Exists,
			TotalAmount:       st.Pool.TotalAmount.StringFixed(2),
			GeneratedAmount:   st.Pool.GeneratedAmount.StringFixed(2),
			RemainingAmount:   st.Pool.RemainingAmount.StringFixed(2),
			QualifiedStudents: st.QualifiedStudents,
		},
	}
	svcs.Mail.SendMessages(&core.EmailMessage{
		To:           svcs.Conf.Reports.Recipients,
		Subject:      "Daily digest " + data.Date,
		TemplateName: "daily_digest",
		TemplateData: data,
	})
	return nil
}
