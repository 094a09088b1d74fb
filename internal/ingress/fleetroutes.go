package ingress

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xmidt-org/fleethub/internal/fleet"
)

// fleetMembership is the JSON body of a set-membership request and the
// response shape of a read.
type fleetMembership struct {
	GroupID string   `json:"groupId"`
	Devices []string `json:"devices"`
}

// configFleetRoutes wires the fleet CRUD surface onto base. The dispatch
// engine itself only ever reads membership through the fleet.Oracle
// interface; these routes are how an administrator seeds it.
func configFleetRoutes(base *mux.Router, store *fleet.MemoryStore) {
	base.HandleFunc("/fleets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Fleets []string `json:"fleets"`
		}{Fleets: store.Groups()})
	}).Methods(http.MethodGet)

	base.HandleFunc("/fleet/{groupId}", func(w http.ResponseWriter, r *http.Request) {
		groupID := mux.Vars(r)["groupId"]

		members, err := store.MembersOf(groupID)
		if err != nil {
			if errors.Is(err, fleet.ErrGroupNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, fleetMembership{GroupID: groupID, Devices: members})
	}).Methods(http.MethodGet)

	base.HandleFunc("/fleet/{groupId}", func(w http.ResponseWriter, r *http.Request) {
		groupID := mux.Vars(r)["groupId"]

		var body fleetMembership
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		store.SetGroup(groupID, body.Devices)
		writeJSON(w, http.StatusOK, fleetMembership{GroupID: groupID, Devices: body.Devices})
	}).Methods(http.MethodPut)

	base.HandleFunc("/fleet/{groupId}", func(w http.ResponseWriter, r *http.Request) {
		store.DeleteGroup(mux.Vars(r)["groupId"])
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
