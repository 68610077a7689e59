package logsvc

import (
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
)

// RollbarLogger reports to Rollbar and prints every entry locally.
type RollbarLogger struct {
	local *ZeroLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(local *ZeroLogger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{local: local}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, account.Account
func (l RollbarLogger) prepare(msg string, args []interface{}) (rbArgs, localArgs []interface{}) {
	var accSet bool
	rbArgs = make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	localArgs = make([]interface{}, 0, len(args)+1)
	for _, arg := range args {
		// set logged in Account
		if acc, ok := arg.(account.Account); ok {
			if !accSet { // only set one Account
				rollbar.SetPerson(acc.ID, acc.Name, acc.Email)
				localArgs = append(localArgs, map[string]interface{}{"accountId": acc.ID})
				accSet = true
			}
			continue
		}
		rbArgs = append(rbArgs, arg)
		localArgs = append(localArgs, arg)
	}
	if !accSet {
		rollbar.ClearPerson()
	}
	return rbArgs, localArgs
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rb, local := l.prepare(msg, args)
	rollbar.Debug(rb...)
	l.local.Debug(msg, local...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rb, local := l.prepare(msg, args)
	rollbar.Info(rb...)
	l.local.Info(msg, local...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rb, local := l.prepare(msg, args)
	rollbar.Warning(rb...)
	l.local.Warn(msg, local...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rb, local := l.prepare(msg, args)
	rollbar.Error(rb...)
	l.local.Error(msg, local...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rb, local := l.prepare(msg, args)
	rollbar.Critical(rb...)
	rollbar.Wait()
	l.local.Fatal(msg, local...)
}
