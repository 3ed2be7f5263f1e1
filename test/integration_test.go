package test

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/client"
	"github.com/relabs-tech/restful/core/notify"
	"github.com/relabs-tech/restful/core/registry"
	"github.com/relabs-tech/restful/core/store"
	"github.com/relabs-tech/restful/core/tokens"
)

type APITestSuite struct {
	IntegrationTestSuite
}

func TestAPITestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration tests need docker")
	}
	suite.Run(t, &APITestSuite{})
}

func (s *APITestSuite) login(username, password string) client.Client {
	c, err := s.client.Login(username, password)
	s.Require().NoError(err)
	return c
}

func (s *APITestSuite) TestLoginAndCRUD() {
	admin := s.login("admin", "admin-secret")
	partners := admin.Kind("partner")
	email := uuid.New().String() + "@example.com"

	var created map[string]interface{}
	_, err := partners.Create(map[string]interface{}{
		"name":     "Acme",
		"email":    email,
		"birthday": "1990-05-17",
		"tag_ids":  []interface{}{map[string]interface{}{"name": "vip"}},
		"line_ids": []interface{}{map[string]interface{}{"label": "first"}},
	}, &created, "id", "name", "birthday", "tag_ids", "line_ids")
	s.Require().NoError(err)
	s.Equal("Acme", created["name"])
	s.Equal("1990-05-17", created["birthday"])
	s.Equal(float64(1), created["tag_ids_count"])
	s.Equal(float64(1), created["line_ids_count"])
	id := int64(created["id"].(float64))

	res, err := partners.Create(map[string]interface{}{"name": "Copy", "email": email}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, res.Code)
	s.Contains(res.Message, "already exists")

	res, _ = partners.Create(map[string]interface{}{"name": "Wrong", "birthday": "31/12/2024"}, nil)
	s.Equal(http.StatusBadRequest, res.Code)
	s.Equal("Invalid date format for field 'birthday': 31/12/2024", res.Message)

	var updated map[string]interface{}
	_, err = partners.Update(map[string]interface{}{"id": id, "age": 42, "active": true}, &updated, "age", "active")
	s.Require().NoError(err)
	s.Equal(float64(42), updated["age"])
	s.Equal(true, updated["active"])

	_, err = partners.Delete(id)
	s.Require().NoError(err)
	res, _ = partners.Delete(id)
	s.Equal(http.StatusNotFound, res.Code)

	lines, err := s.store.Search(context.Background(), "line", store.Where("label", "=", "first"), 0, 0)
	s.Require().NoError(err)
	s.Empty(lines, "owned lines are deleted with their partner")
}

func (s *APITestSuite) TestSearchOnPostgres() {
	admin := s.login("admin", "admin-secret")
	partners := admin.Kind("partner")
	marker := uuid.New().String()
	for i, name := range []string{"Alpha", "Beta", "Gamma"} {
		_, err := partners.Create(map[string]interface{}{"name": name + " " + marker, "age": 20 + i}, nil)
		s.Require().NoError(err)
	}

	var found []map[string]interface{}
	_, err := partners.All(client.Query{
		Domain: []interface{}{[]interface{}{"name", "like", marker}, []interface{}{"age", ">=", 21}},
		Fields: []string{"name", "age"},
	}, &found)
	s.Require().NoError(err)
	s.Len(found, 2)
	s.Equal(float64(21), found[0]["age"])

	_, err = partners.All(client.Query{
		Domain: []interface{}{"|", []interface{}{"age", "=", 20}, []interface{}{"age", "in", []interface{}{22}}},
		Fields: []string{"age"},
	}, &found)
	s.Require().NoError(err)
	for _, f := range found {
		s.NotEqual(float64(21), f["age"])
	}

	_, err = partners.Filter(marker, nil, &found, "name")
	s.Require().NoError(err)
	s.Len(found, 3)

	// wildcards in a like value match literally
	for _, name := range []string{"50% off", "500 off", "a_b", "axb"} {
		_, err := partners.Create(map[string]interface{}{"name": name + " " + marker}, nil)
		s.Require().NoError(err)
	}
	for value, expected := range map[string]string{"50%": "50% off " + marker, "a_b": "a_b " + marker} {
		_, err = partners.All(client.Query{
			Domain: []interface{}{[]interface{}{"name", "like", marker}, []interface{}{"name", "like", value}},
			Fields: []string{"name"},
		}, &found)
		s.Require().NoError(err)
		s.Require().Len(found, 1, value)
		s.Equal(expected, found[0]["name"])
	}
}

func (s *APITestSuite) TestAttachmentsInKSS() {
	admin := s.login("admin", "admin-secret")
	var created map[string]interface{}
	_, err := admin.Kind("partner").Create(map[string]interface{}{
		"name":           "With file",
		"attachment_ids": []interface{}{map[string]interface{}{"name": "hello.txt", "datas": base64.StdEncoding.EncodeToString([]byte("hello"))}},
	}, &created, "attachment_ids")
	s.Require().NoError(err)
	attachments := created["attachment_ids"].([]interface{})
	s.Require().Len(attachments, 1)
	attachment := attachments[0].(map[string]interface{})
	s.Equal(s.server.URL+"/web/content/"+jsonID(attachment["id"]), attachment["url"])

	code, header, data, err := admin.RawGet("/web/content/" + jsonID(attachment["id"]))
	s.Require().NoError(err)
	s.Equal(http.StatusOK, code)
	s.Equal("hello", string(data))
	s.Equal("text/plain", header.Get("Content-Type"))
}

func (s *APITestSuite) TestTokens() {
	ctx := context.Background()
	jane := &access.Principal{ID: 2, Login: "jane"}
	token, err := s.manager.Issue(ctx, jane)
	s.Require().NoError(err)
	id, err := s.manager.Verify(ctx, token.Value)
	s.Require().NoError(err)
	s.Equal(int64(2), id)

	stale := uuid.New().String()
	s.Require().NoError(s.tokens.Insert(ctx, tokens.Token{Value: stale, PrincipalID: 2, Expires: time.Now().Add(-time.Hour)}))
	_, err = s.manager.Verify(ctx, stale)
	s.True(access.IsAuthenticationError(err))

	n, err := s.manager.Reap(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(n, int64(1))
	t, err := s.tokens.Lookup(ctx, stale)
	s.Require().NoError(err)
	s.Nil(t)
	t, err = s.tokens.Lookup(ctx, token.Value)
	s.Require().NoError(err)
	s.NotNil(t)
}

func (s *APITestSuite) TestAccounts() {
	ctx := context.Background()
	p, err := s.accounts.Authenticate(ctx, "jane", "secret")
	s.Require().NoError(err)
	s.True(p.HasRole("user"))
	_, err = s.accounts.Authenticate(ctx, "jane", "wrong")
	s.True(access.IsAuthenticationError(err))

	jane := s.login("jane", "secret")
	_, err = jane.ChangePassword("secret", "changed")
	s.Require().NoError(err)
	s.login("jane", "changed")
	s.Require().NoError(s.accounts.ChangePassword(ctx, p.ID, "changed", "secret"))

	res, _ := jane.Kind("partner").Create(map[string]interface{}{"name": "x"}, nil)
	s.Equal(http.StatusOK, res.Code, "partner has no permits and is open to every principal")
}

func (s *APITestSuite) TestRegistryBaseURL() {
	s.Equal("https://fallback.example.com", s.registry.BaseURL("https://fallback.example.com"))
	s.Require().NoError(s.registry.Accessor(registry.ConfigPrefix).Write(registry.BaseURLKey, "https://api.example.com"))
	s.Equal("https://api.example.com", s.registry.BaseURL("https://fallback.example.com"))
	s.Require().NoError(s.registry.Accessor(registry.ConfigPrefix).Delete(registry.BaseURLKey))
}

func (s *APITestSuite) TestKafkaNotifications() {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{s.kafkaAddr},
		Topic:     notificationTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()
	s.Require().NoError(reader.SetOffset(kafka.LastOffset))

	admin := s.login("admin", "admin-secret")
	marker := uuid.New().String()
	_, err := admin.Kind("tag").Create(map[string]interface{}{"name": marker}, nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		m, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		n := notify.Notification{}
		s.Require().NoError(json.Unmarshal(m.Value, &n))
		if n.Kind != "tag" {
			continue
		}
		var body map[string]interface{}
		s.Require().NoError(json.Unmarshal(n.Body, &body))
		if body["name"] != marker {
			continue
		}
		s.Equal("tag", string(m.Key))
		s.Equal(core.OperationCreate, n.Operation)
		return
	}
}

func jsonID(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}
