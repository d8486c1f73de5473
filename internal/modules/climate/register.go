package climate

import (
	"net/http"

	"climate-server/internal/modules/climate/controller"
)

func RegisterFeature(mux *http.ServeMux, svc controller.ClimateService) {
	climateController := controller.NewClimateController(svc)
	climateController.RegisterRoutes(mux)
}
