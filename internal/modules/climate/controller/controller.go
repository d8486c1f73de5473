package controller

import (
	"context"
	"net/http"

	"climate-server/internal/modules/climate/service"
	"climate-server/internal/modules/climate/types"
)

// ClimateService is the part of the service layer the HTTP shim needs.
type ClimateService interface {
	FindStations(ctx context.Context, req service.FindStationsRequest) ([]types.StationHit, error)
	GetStation(ctx context.Context, id string) (types.Station, error)
	GetTemperatures(ctx context.Context, req service.TemperaturesRequest) ([]types.MonthlyAggregate, error)
}

type ClimateController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type climateControllerImpl struct {
	service ClimateService
}

func NewClimateController(service ClimateService) ClimateController {
	return &climateControllerImpl{service: service}
}

func (c *climateControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stations", c.handleStations)
	mux.HandleFunc("GET /api/stations/{id}", c.handleStation)
	mux.HandleFunc("GET /api/temperatures", c.handleTemperatures)
}
