// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/backend"
	"github.com/relabs-tech/restful/core/csql"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/kss"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/notify"
	"github.com/relabs-tech/restful/core/registry"
	"github.com/relabs-tech/restful/core/schema"
	"github.com/relabs-tech/restful/core/store"
	"github.com/relabs-tech/restful/core/tokens"
)

var configurationJSON = `
{
  "kinds": [
    {
      "kind": "partner",
      "filter_fields": ["name", "email"],
      "fields": [
        {"name": "name", "type": "char", "required": true},
        {"name": "email", "type": "char", "unique": true},
        {"name": "phone", "type": "char"},
        {"name": "is_company", "type": "boolean"},
        {"name": "parent_id", "type": "relation_to_one", "kind": "partner"},
        {"name": "tag_ids", "type": "relation_to_many_shared", "kind": "tag"},
        {"name": "attachment_ids", "type": "relation_to_many_shared", "kind": "attachment"},
        {"name": "comment", "type": "html"}
      ]
    },
    {
      "kind": "tag",
      "fields": [{"name": "name", "type": "char", "required": true, "unique": true}]
    }
  ]
}
`

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker". Without POSTGRES, all data is kept in memory.
type Service struct {
	Postgres         string        `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string        `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema           string        `env:"SCHEMA,default=restful" description:"the database schema"`
	Port             int           `env:"PORT,default=3000" description:"the port to listen on"`
	JWTKey           string        `env:"JWT_KEY,required" description:"the key to sign bearer tokens with"`
	BaseURL          string        `env:"BASE_URL,optional" description:"the public base URL, used for attachment links"`
	Debug            bool          `env:"DEBUG,default=false" description:"add tracebacks to internal server errors"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" description:"the log level"`
	ReapInterval     time.Duration `env:"REAP_INTERVAL,default=1h" description:"how often expired tokens are reaped"`
	KafkaBrokers     string        `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers for write notifications"`
	KafkaTopic       string        `env:"KAFKA_TOPIC,default=entity_notification" description:"the kafka topic for write notifications"`
	KssDriver        string        `env:"KSS_DRIVER,optional" description:"where attachment contents are kept: local, s3 or empty for the store"`
	KssPath          string        `env:"KSS_PATH,default=/tmp/restful" description:"the base path of the local kss driver"`
	AWSBucket        string        `env:"AWS_BUCKET,optional" description:"the S3 bucket of the s3 kss driver"`
	AWSRegion        string        `env:"AWS_REGION,default=eu-central-1" description:"the AWS region of the s3 kss driver"`
	AWSAccessID      string        `env:"AWS_ACCESS_ID,optional" description:"the AWS access key id of the s3 kss driver"`
	AWSAccessKey     string        `env:"AWS_ACCESS_KEY,optional" description:"the AWS secret access key of the s3 kss driver"`
	KindsFile        string        `env:"KINDS_FILE,optional" description:"a JSON file describing the entity kinds"`
	SchemasDir       string        `env:"SCHEMAS_DIR,optional" description:"a directory of JSON schemas for payload validation"`
	AdminLogin       string        `env:"ADMIN_LOGIN,default=admin" description:"the login of the admin account"`
	AdminPassword    string        `env:"ADMIN_PASSWORD,required" description:"the password of the admin account"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := configurationJSON
	if service.KindsFile != "" {
		data, err := os.ReadFile(service.KindsFile)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot read kinds file")
		}
		config = string(data)
	}
	kinds, err := fields.ParseConfiguration(config)
	if err != nil {
		rlog.WithError(err).Fatalln("invalid kinds configuration")
	}

	var validator *schema.Validator
	if service.SchemasDir != "" {
		if validator, err = schema.NewValidatorFromFS(os.DirFS(service.SchemasDir)); err != nil {
			rlog.WithError(err).Fatalln("invalid schemas")
		}
	}

	blobs, err := kss.New(ctx, service.kssConfiguration())
	if err != nil {
		rlog.WithError(err).Fatalln("cannot create kss driver")
	}

	admin := access.FunctionAccount{Login: service.AdminLogin, Password: service.AdminPassword, Roles: []string{access.RoleAdmin}}
	var (
		engine     *store.Engine
		accounts   access.Accounts
		repository tokens.Repository
		baseURL    = service.BaseURL
	)
	if service.Postgres != "" {
		db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.Schema)
		defer db.Close()
		if engine, err = store.NewPostgres(ctx, db, kinds); err != nil {
			rlog.WithError(err).Fatalln("cannot create postgres store")
		}
		postgresAccounts, err := access.NewPostgresAccounts(db)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot create accounts")
		}
		if err := postgresAccounts.EnsureFunctionAccounts(ctx, admin); err != nil {
			rlog.WithError(err).Fatalln("cannot create admin account")
		}
		accounts = postgresAccounts
		if repository, err = tokens.NewPostgresRepository(db); err != nil {
			rlog.WithError(err).Fatalln("cannot create token repository")
		}
		reg, err := registry.New(db)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot create registry")
		}
		baseURL = reg.BaseURL(baseURL)
	} else {
		rlog.Warnln("POSTGRES is not set, keeping all data in memory")
		engine = store.NewMemory(kinds)
		if accounts, err = access.NewMemoryAccounts(admin); err != nil {
			rlog.WithError(err).Fatalln("cannot create accounts")
		}
		repository = tokens.NewMemoryRepository()
	}
	if blobs != nil {
		engine = engine.WithBlobs(blobs)
	}

	var notifier core.Notifier
	if service.KafkaBrokers != "" {
		kafka := notify.NewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafka.Close()
		notifier = kafka
	}

	manager := tokens.NewManager([]byte(service.JWTKey), repository)
	go manager.RunReaper(ctx, service.ReapInterval)

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Fields:    kinds,
		Store:     engine,
		Accounts:  accounts,
		Tokens:    manager,
		Router:    router,
		Notifier:  notifier,
		Validator: validator,
		BaseURL:   baseURL,
		Debug:     service.Debug,
	})

	server := &http.Server{Addr: ":" + strconv.Itoa(service.Port), Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	rlog.Infoln("listen on port", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rlog.WithError(err).Fatalln("server failed")
	}
}

func (s *Service) kssConfiguration() kss.Configuration {
	switch strings.ToLower(s.KssDriver) {
	case "local":
		return kss.Configuration{
			DriverType:         kss.DriverTypeLocal,
			LocalConfiguration: &kss.LocalConfiguration{BasePath: s.KssPath},
		}
	case "s3":
		return kss.Configuration{
			DriverType: kss.DriverTypeAWSS3,
			S3Configuration: &kss.S3Configuration{
				AccessID:      s.AWSAccessID,
				AccessKey:     s.AWSAccessKey,
				AWSRegion:     s.AWSRegion,
				AWSBucketName: s.AWSBucket,
			},
		}
	}
	return kss.Configuration{DriverType: kss.None}
}
