package notify

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/xmidt-org/ancla"
)

// Options configures the webhook-registration routes.
type Options struct {
	Router   *mux.Router
	Registry *MemoryRegistry
	Logger   log.Logger
}

// ConfigHandler wires the webhook subscribe/list routes onto o.Router.
func ConfigHandler(o *Options) {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}

	o.Router.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		var hook ancla.Webhook
		if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if hook.Config.URL == "" {
			http.Error(w, "config.url is required", http.StatusBadRequest)
			return
		}
		if len(hook.Events) == 0 {
			http.Error(w, "events must not be empty", http.StatusBadRequest)
			return
		}

		o.Registry.Add(hook)
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	o.Router.HandleFunc("/hooks", func(w http.ResponseWriter, r *http.Request) {
		hooks, err := o.Registry.AllWebhooks(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(hooks)
	}).Methods(http.MethodGet)
}
