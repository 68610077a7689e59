package echoapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
	emailsvc "github.com/azardenmark/dashboard-sub000/services/email"
	"github.com/azardenmark/dashboard-sub000/services/metrics"
	inmemdb "github.com/azardenmark/dashboard-sub000/storage/database/inmem"
	"github.com/azardenmark/dashboard-sub000/testutil"
)

const strongPwd = "Kinder#Garten42"

type testEnv struct {
	srv      Server
	tokens   tokenIssuer
	repo     account.Repository
	accounts *account.Service
	outbox   *emailsvc.ConsoleService
	school   *testutil.School
	metrics  *metrics.Prometheus
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	validate, translator := core.NewValidator()

	templates, err := core.NewEmailTemplates(conf.FrontendBaseURL, true)
	require.NoError(t, err)

	env := &testEnv{
		tokens:  newTokenIssuer(conf),
		repo:    inmemdb.NewAccountRepository(),
		school:  testutil.NewSchool(t),
		metrics: metrics.NewPrometheus(),
		outbox: emailsvc.NewConsoleService(emailsvc.ConsoleOptions{
			Templates: templates,
			From:      mail.Address{Address: conf.DefaultFromEmail},
			AppName:   conf.AppName,
			Sync:      true,
		}),
	}
	env.accounts = account.NewService(account.Options{
		Repo:                 env.repo,
		Mail:                 env.outbox,
		Validate:             validate,
		Translator:           translator,
		SecretKey:            conf.SecretKey,
		PasswordResetTimeout: conf.PasswordResetTimeoutDelta,
	})
	env.srv = NewServer(Options{
		Conf:           conf,
		Logger:         testutil.NewLogger(t),
		Translator:     translator,
		AccountSvc:     env.accounts,
		SchoolSvc:      env.school.Svc,
		MetricsHandler: env.metrics.Handler(),
		DisableReqLogs: true,
	})
	return env
}

func (env *testEnv) admin(t *testing.T) (account.Account, string) {
	t.Helper()
	acc := testutil.CreateAccount(t, env.repo, "Admin", "admin@test.test", "", strongPwd, []string{account.RoleAdmin}, true)
	return acc, env.token(t, acc)
}

func (env *testEnv) guardian(t *testing.T) (account.Account, string) {
	t.Helper()
	acc := testutil.CreateAccount(t, env.repo, "Guardian", "guardian@test.test", "+243810000001", strongPwd, []string{account.RoleGuardian}, true)
	return acc, env.token(t, acc)
}

func (env *testEnv) token(t *testing.T, acc account.Account) string {
	t.Helper()
	token, err := env.tokens.TokenFor(acc)
	require.NoError(t, err)
	return token
}

// do sends a JSON request (body may be nil) and returns the recorder.
func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func requireCode(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	require.Equal(t, code, rec.Code, rec.Body.String())
}
