package backend

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/crud"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/project"
	"github.com/relabs-tech/restful/core/store"
)

const listOfFields = "list_of_fields"

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, false)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	username, _ := body["username"].(string)
	password, _ := body["password"].(string)
	if username == "" || password == "" {
		b.writeError(w, r, core.ErrAuthentication)
		return
	}
	principal, err := b.accounts.Authenticate(r.Context(), username, password)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Infof("login of %s failed", username)
		b.writeError(w, r, err)
		return
	}
	token, err := b.tokens.Issue(r.Context(), principal)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "User Login Successfully", project.NewObject().
		Set("user_id", principal.ID).
		Set("username", username).
		Set("token", token.Value))
}

func (b *Backend) changePassword(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, false)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	oldPassword, _ := body["old_password"].(string)
	newPassword, _ := body["new_password"].(string)
	principal := access.PrincipalFromContext(r.Context())
	if principal == nil {
		b.writeError(w, r, core.ErrAuthentication)
		return
	}
	if err := b.accounts.ChangePassword(r.Context(), principal.ID, oldPassword, newPassword); err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Password Changed Successfully", nil)
}

func (b *Backend) create(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	body, err := readBody(r, false)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	names, err := popFields(body)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	result, err := b.crud.Create(r.Context(), b.env(r), kind, body, project.Options{Fields: names})
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "New record created successfully", result)
}

func (b *Backend) update(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	body, err := readBody(r, false)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	names, err := popFields(body)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	result, ok, err := b.crud.Update(r.Context(), b.env(r), kind, body, project.Options{Fields: names})
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	if !ok {
		writeEnvelope(w, http.StatusBadRequest, "Missing or unknown record id", false)
		return
	}
	writeEnvelope(w, http.StatusOK, "Existing record updated successfully", result)
}

func (b *Backend) delete(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	id, err := recordID(r)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	result, err := b.crud.Delete(r.Context(), b.env(r), kind, id)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Record deleted successfully", result)
}

func (b *Backend) searchAll(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	body, err := readBody(r, true)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	q := crud.Query{}
	if q.Domain, err = domainParameter(r, body); err != nil {
		b.writeError(w, r, err)
		return
	}
	limit, ok, err := intParameter(r, body, "limit")
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	if ok {
		q.Limit = limit
		if limit == 0 {
			q.Limit = -1
		}
	}
	if q.Offset, _, err = intParameter(r, body, "offset"); err != nil {
		b.writeError(w, r, err)
		return
	}
	if q.Fields, err = fieldsParameter(r, body); err != nil {
		b.writeError(w, r, err)
		return
	}
	result, err := b.crud.SearchAll(r.Context(), b.env(r), kind, q)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "All records retrieved successfully", result)
}

func (b *Backend) searchOne(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	id, err := recordID(r)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	body, err := readBody(r, true)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	names, err := fieldsParameter(r, body)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	result, err := b.crud.SearchOne(r.Context(), b.env(r), kind, id, project.Options{Fields: names})
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Record found successfully", result)
}

func (b *Backend) filter(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	body, err := readBody(r, true)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	domain, err := domainParameter(r, body)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	names, err := fieldsParameter(r, body)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	keyword := r.URL.Query().Get("query")
	result, err := b.crud.Filter(r.Context(), b.env(r), kind, domain, keyword, project.Options{Fields: names})
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Record filtered successfully", result)
}

func (b *Backend) action(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	id, err := recordID(r)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	body, err := readBody(r, false)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	name, _ := body["action_name"].(string)
	result, err := b.crud.RunAction(r.Context(), b.env(r), kind, id, name)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Action executed successfully", result)
}

func recordID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, core.InputError("Record id is required")
	}
	return id, nil
}

// popFields removes the field filter from a create or update payload
func popFields(body map[string]interface{}) ([]string, error) {
	v, ok := body[listOfFields]
	if !ok {
		return nil, nil
	}
	delete(body, listOfFields)
	return asFields(v)
}

func asFields(v interface{}) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		names := make([]string, 0, len(list))
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, core.InputError("Invalid %s: %v", listOfFields, v)
			}
			names = append(names, name)
		}
		return names, nil
	case string:
		return splitFields(list), nil
	}
	return nil, core.InputError("Invalid %s: %v", listOfFields, v)
}

func splitFields(s string) []string {
	names := []string{}
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// fieldsParameter reads the field filter from the body, else from the query
func fieldsParameter(r *http.Request, body map[string]interface{}) ([]string, error) {
	if v, ok := body[listOfFields]; ok {
		return asFields(v)
	}
	if s := r.URL.Query().Get(listOfFields); s != "" {
		return splitFields(s), nil
	}
	return nil, nil
}

// domainParameter reads the domain from the body, else from the query
func domainParameter(r *http.Request, body map[string]interface{}) (store.Domain, error) {
	if v, ok := body["domain"]; ok {
		return store.ParseDomain(v)
	}
	if s := r.URL.Query().Get("domain"); s != "" {
		return store.ParseDomain(s)
	}
	return nil, nil
}

// intParameter reads a non-negative integer from the body, else from the query
func intParameter(r *http.Request, body map[string]interface{}, name string) (int, bool, error) {
	if v, ok := body[name]; ok && v != nil {
		f, ok := v.(float64)
		if !ok || f < 0 || f != float64(int(f)) {
			return 0, false, core.InputError("Invalid %s: %v", name, v)
		}
		return int(f), true, nil
	}
	if s := r.URL.Query().Get(name); s != "" {
		i, err := strconv.Atoi(s)
		if err != nil || i < 0 {
			return 0, false, core.InputError("Invalid %s: %s", name, s)
		}
		return i, true, nil
	}
	return 0, false, nil
}
