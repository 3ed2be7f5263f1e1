package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/restful/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "Version", map[string]string{"version": Version})
	}).Methods(http.MethodOptions, http.MethodGet)
}
