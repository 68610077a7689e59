// Package di builds the dependencies shared by the API server and the admin CLI from the configuration.
package di

import (
	"context"
	"net/mail"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
	"github.com/azardenmark/dashboard-sub000/core/blobstore"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
	"github.com/azardenmark/dashboard-sub000/core/school"
	emailsvc "github.com/azardenmark/dashboard-sub000/services/email"
	"github.com/azardenmark/dashboard-sub000/services/events/natsbus"
	logsvc "github.com/azardenmark/dashboard-sub000/services/logger"
	"github.com/azardenmark/dashboard-sub000/services/metrics"
	blobmem "github.com/azardenmark/dashboard-sub000/storage/blob/memory"
	blobs3 "github.com/azardenmark/dashboard-sub000/storage/blob/s3"
	"github.com/azardenmark/dashboard-sub000/storage/database"
	sqlxrepos "github.com/azardenmark/dashboard-sub000/storage/database/sqlx"
	"github.com/azardenmark/dashboard-sub000/storage/docstore/memory"
	"github.com/azardenmark/dashboard-sub000/storage/docstore/mongo"
	"github.com/azardenmark/dashboard-sub000/storage/docstore/sqldoc"
)

// Mailer is an email service that can wait for its in-flight sends.
type Mailer interface {
	core.EmailService
	Wait()
}

type Container struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator

	DB      *sqlx.DB
	Store   docstore.Store
	Blobs   blobstore.Store
	Bus     events.Bus
	Mail    Mailer
	Metrics *metrics.Prometheus

	AccountSvc *account.Service
	SchoolSvc  *school.Service

	closers []func() error
}

// NewLogger reports to Rollbar outside of debug mode and always prints to stdout.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewConsoleLogger(os.Stdout, conf.Debug), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

// New sets up every dependency; on error, whatever was opened is closed again.
func New(ctx context.Context, conf *core.Config, logger core.Logger) (c *Container, err error) {
	c = &Container{Conf: conf, Logger: logger, Metrics: metrics.NewPrometheus()}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()
	c.Validate, c.Translator = core.NewValidator()

	if c.DB, err = NewDB(ctx, conf.Database); err != nil {
		return c, errors.Wrap(err, "setting up database")
	}
	c.closers = append(c.closers, c.DB.Close)

	if c.Store, err = NewStore(ctx, conf.Store, logger); err != nil {
		return c, errors.Wrap(err, "setting up document store")
	}
	c.closers = append(c.closers, c.Store.Close)

	if c.Blobs, err = NewBlobs(ctx, conf.Blob); err != nil {
		return c, errors.Wrap(err, "setting up blob store")
	}

	if c.Bus, err = NewBus(conf, logger); err != nil {
		return c, errors.Wrap(err, "setting up event bus")
	}
	c.closers = append(c.closers, c.Bus.Close)

	if c.Mail, err = NewMail(conf, logger); err != nil {
		return c, errors.Wrap(err, "setting up email service")
	}
	c.closers = append(c.closers, func() error { c.Mail.Wait(); return nil })

	c.AccountSvc = account.NewService(account.Options{
		Repo:                 sqlxrepos.NewAccountRepository(c.DB),
		Mail:                 c.Mail,
		Logger:               logger,
		Validate:             c.Validate,
		Translator:           c.Translator,
		SecretKey:            conf.SecretKey,
		PasswordResetTimeout: conf.PasswordResetTimeoutDelta,
	})
	c.SchoolSvc = school.NewService(school.Options{
		Store:      c.Store,
		Blobs:      c.Blobs,
		Bus:        c.Bus,
		Logger:     logger,
		Metrics:    c.Metrics,
		Validate:   c.Validate,
		Translator: c.Translator,
	})
	return c, nil
}

// Close releases the dependencies in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Error("closing dependency", err)
		}
	}
	c.closers = nil
}

// NewDB opens the accounts database, creating and migrating it when needed.
func NewDB(ctx context.Context, conf core.DatabaseConfig) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, conf.Engine); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewStore(ctx context.Context, conf core.StoreConfig, logger core.Logger) (docstore.Store, error) {
	switch conf.Driver {
	case "memory":
		return memory.New(), nil
	case "mongo":
		return mongo.Open(ctx, mongo.Options{URI: conf.DSN, Database: conf.Database, Watch: true, Logger: logger})
	case "postgres":
		return sqldoc.Open(ctx, sqldoc.DriverPostgres, conf.DSN, logger)
	case "sqlite":
		return sqldoc.Open(ctx, sqldoc.DriverSQLite, conf.DSN, logger)
	}
	return nil, errors.Errorf("unknown store driver %q", conf.Driver)
}

func NewBlobs(ctx context.Context, conf core.BlobConfig) (blobstore.Store, error) {
	switch conf.Driver {
	case "memory":
		return blobmem.New(conf.PublicBaseURL), nil
	case "s3":
		return blobs3.New(ctx, blobs3.Config{
			Bucket:        conf.Bucket,
			Region:        conf.Region,
			Endpoint:      conf.Endpoint,
			PathStyle:     conf.PathStyle,
			PublicBaseURL: conf.PublicBaseURL,
		})
	}
	return nil, errors.Errorf("unknown blob driver %q", conf.Driver)
}

func NewBus(conf *core.Config, logger core.Logger) (events.Bus, error) {
	switch conf.Events.Driver {
	case "local":
		return events.NewLocalBus(), nil
	case "nats":
		return natsbus.Connect(natsbus.Options{
			URL:           conf.Events.URL,
			SubjectPrefix: conf.Events.SubjectPrefix,
			Name:          conf.AppName,
			Logger:        logger,
		})
	}
	return nil, errors.Errorf("unknown events driver %q", conf.Events.Driver)
}

// NewMail prints emails in debug mode (or without a Sendgrid key) and sends them through Sendgrid otherwise.
func NewMail(conf *core.Config, logger core.Logger) (Mailer, error) {
	templates, err := core.NewEmailTemplates(conf.FrontendBaseURL, conf.Debug)
	if err != nil {
		return nil, errors.Wrap(err, "parsing email templates")
	}
	from := mail.Address{Name: conf.AppName, Address: conf.DefaultFromEmail}
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(emailsvc.ConsoleOptions{
			Templates: templates,
			From:      from,
			AppName:   conf.AppName,
			Logger:    logger,
			Output:    os.Stdout,
		}), nil
	}
	return emailsvc.NewSendgridService(emailsvc.SendgridOptions{
		APIKey:    conf.SendgridAPIKey,
		Templates: templates,
		From:      from,
		AppName:   conf.AppName,
		Logger:    logger,
	}), nil
}
