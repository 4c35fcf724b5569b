package api

import (
	"net/http"

	"github.com/refitt/refitt-sub002/response"
)

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	response.Success(w, ResponseHealth{Status: "ok"})
}
