// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/logger"
)

// Envelope wraps every response body
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Body    interface{} `json:"body"`
}

func writeEnvelope(w http.ResponseWriter, code int, message string, body interface{}) {
	if body == nil {
		body = map[string]interface{}{}
	}
	data, err := json.Marshal(Envelope{Code: code, Message: message, Body: body})
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot marshal response")
		code = http.StatusInternalServerError
		data = []byte(`{"code":500,"message":"Internal Server Error","body":{}}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(data)
}

// constraintMessage returns the most specific description of a database error
func constraintMessage(err *pq.Error) string {
	switch {
	case err.Detail != "":
		return err.Detail
	case err.Message != "":
		return err.Message
	case err.Constraint != "":
		return "Constraint Error: " + err.Constraint
	}
	return "Database Constraint Error"
}

// status maps an error to the HTTP status code and message of its response
func status(err error) (int, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return http.StatusBadRequest, constraintMessage(pqErr)
	}
	switch core.KindOf(err) {
	case core.KindInput, core.KindReference, core.KindFormat, core.KindType, core.KindConstraint:
		return http.StatusBadRequest, err.Error()
	case core.KindValidation:
		return http.StatusPaymentRequired, err.Error()
	case core.KindAuthentication:
		return http.StatusUnauthorized, err.Error()
	case core.KindAuthorization:
		return http.StatusForbidden, err.Error()
	case core.KindNotFound:
		return http.StatusNotFound, err.Error()
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

// writeError writes err as error envelope. Unclassified errors are logged.
func (b *Backend) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := logger.FromContext(r.Context())
	code, message := status(err)
	if code != http.StatusInternalServerError {
		rlog.WithError(err).Debugf("%s %s: %d", r.Method, r.URL.Path, code)
		writeEnvelope(w, code, message, nil)
		return
	}
	rlog.WithError(err).Errorf("%s %s", r.Method, r.URL.Path)
	body := map[string]interface{}{"error": err.Error()}
	if b.debug {
		body["traceback"] = string(debug.Stack())
	}
	writeEnvelope(w, code, message, body)
}

// readBody decodes the JSON object of the request body. If optional is true,
// an empty body is an empty object.
func readBody(r *http.Request, optional bool) (map[string]interface{}, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.InputError("Missing request body")
	}
	if len(data) == 0 {
		if optional {
			return map[string]interface{}{}, nil
		}
		return nil, core.InputError("Missing request body")
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return nil, core.InputError("Invalid JSON body")
	}
	return body, nil
}
