package controller

import (
	"net/http"

	"climate-server/internal/utils"
)

func (c *climateControllerImpl) handleStations(w http.ResponseWriter, r *http.Request) {
	req, err := parseStationsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, err := c.service.FindStations(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, hits)
}

func (c *climateControllerImpl) handleStation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing station id")
		return
	}

	station, err := c.service.GetStation(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, station)
}

func (c *climateControllerImpl) handleTemperatures(w http.ResponseWriter, r *http.Request) {
	req, err := parseTemperaturesQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	months, err := c.service.GetTemperatures(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, months)
}
