// Package test holds the integration tests against postgres and kafka
// containers. They are skipped with -short.
package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/backend"
	"github.com/relabs-tech/restful/core/client"
	"github.com/relabs-tech/restful/core/csql"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/kss"
	"github.com/relabs-tech/restful/core/notify"
	"github.com/relabs-tech/restful/core/registry"
	"github.com/relabs-tech/restful/core/store"
	"github.com/relabs-tech/restful/core/tokens"
)

const notificationTopic = "entity_notification"

const configurationJSON = `{
  "kinds": [
    {
      "kind": "partner",
      "filter_fields": ["name", "email"],
      "fields": [
        {"name": "name", "type": "char", "required": true},
        {"name": "email", "type": "char", "unique": true},
        {"name": "age", "type": "integer"},
        {"name": "birthday", "type": "date"},
        {"name": "active", "type": "boolean"},
        {"name": "parent_id", "type": "relation_to_one", "kind": "partner"},
        {"name": "tag_ids", "type": "relation_to_many_shared", "kind": "tag"},
        {"name": "line_ids", "type": "relation_to_many_owned", "kind": "line", "inverse": "partner_id"},
        {"name": "attachment_ids", "type": "relation_to_many_shared", "kind": "attachment"}
      ]
    },
    {"kind": "tag", "fields": [{"name": "name", "type": "char"}]},
    {
      "kind": "line",
      "display_field": "label",
      "fields": [
        {"name": "label", "type": "char"},
        {"name": "partner_id", "type": "relation_to_one", "kind": "partner", "required": true}
      ]
    }
  ]
}`

// IntegrationTestSuite runs a backend on postgres with kafka notifications
type IntegrationTestSuite struct {
	suite.Suite

	network           testcontainers.Network
	kafkaContainer    testcontainers.Container
	zookeeper         testcontainers.Container
	postgresContainer testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string

	db       *csql.DB
	fields   *fields.Registry
	store    *store.Engine
	accounts *access.PostgresAccounts
	tokens   *tokens.PostgresRepository
	manager  *tokens.Manager
	registry *registry.Registry
	notifier *notify.Kafka
	backend  *backend.Backend
	server   *httptest.Server
	client   client.Client
	blobDir  string
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}
	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("integration tests need docker")
	}
	ctx := context.Background()

	networkName := "test-restful-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"postgres"}},
			WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC
	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	zooC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.zookeeper = zooC

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp", "29092:29092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092,EXTERNAL://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,PLAINTEXT_HOST://localhost:29092,EXTERNAL://kafka:9093",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT,EXTERNAL:PLAINTEXT",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
				"ALLOW_PLAINTEXT_LISTENER":               "yes",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC
	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())
	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	s.Require().NoError(s.createTopic(notificationTopic, 1))

	s.db = csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB), postgresPassword, "restful_test")
	s.db.ClearSchema()

	s.blobDir, err = os.MkdirTemp("", "restful-kss")
	s.Require().NoError(err)
	blobs, err := kss.New(ctx, kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: s.blobDir},
	})
	s.Require().NoError(err)

	s.fields = fields.MustParseConfiguration(configurationJSON)
	engine, err := store.NewPostgres(ctx, s.db, s.fields)
	s.Require().NoError(err)
	s.store = engine.WithBlobs(blobs)

	s.accounts, err = access.NewPostgresAccounts(s.db)
	s.Require().NoError(err)
	s.Require().NoError(s.accounts.EnsureFunctionAccounts(ctx,
		access.FunctionAccount{Login: "admin", Password: "admin-secret", Roles: []string{access.RoleAdmin}},
		access.FunctionAccount{Login: "jane", Password: "secret", Roles: []string{"user"}},
	))
	s.tokens, err = tokens.NewPostgresRepository(s.db)
	s.Require().NoError(err)
	s.manager = tokens.NewManager([]byte("integration-key"), s.tokens)
	s.registry, err = registry.New(s.db)
	s.Require().NoError(err)
	s.notifier = notify.NewKafka([]string{s.kafkaAddr}, notificationTopic)

	router := mux.NewRouter()
	s.server = httptest.NewServer(router)
	s.backend = backend.New(&backend.Builder{
		Fields:   s.fields,
		Store:    s.store,
		Accounts: s.accounts,
		Tokens:   s.manager,
		Router:   router,
		Notifier: s.notifier,
		BaseURL:  s.registry.BaseURL(s.server.URL),
	})
	s.client = client.NewWithURL(s.server.URL)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.server != nil {
		s.server.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.db != nil {
		s.db.ClearSchema()
		s.db.Close()
	}
	if s.blobDir != "" {
		os.RemoveAll(s.blobDir)
	}
	for _, c := range []testcontainers.Container{s.kafkaContainer, s.zookeeper, s.postgresContainer} {
		if c != nil {
			s.Require().NoError(c.Terminate(ctx))
		}
	}
	if s.network != nil {
		s.network.Remove(ctx)
	}
}
