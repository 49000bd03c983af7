package server

import (
	"net/http"

	"github.com/imagedesk/imagedesk/api/pkg/types"
	"github.com/imagedesk/imagedesk/api/pkg/version"
)

// healthz reports aggregate reachability of the session store and the
// execution channel. 200 when both answer, 503 otherwise, so load
// balancers can take the instance out of rotation.
func (apiServer *APIServer) healthz(rw http.ResponseWriter, req *http.Request) {
	status := &types.HealthStatus{
		Status:           "ok",
		Store:            "ok",
		ExecutionChannel: "ok",
		Version:          version.Get(),
	}

	code := http.StatusOK
	if err := apiServer.Store.Ping(req.Context()); err != nil {
		status.Status = "degraded"
		status.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	if apiServer.Exec != nil {
		if err := apiServer.Exec.Ping(req.Context()); err != nil {
			status.Status = "degraded"
			status.ExecutionChannel = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	writeResponse(rw, status, code)
}
