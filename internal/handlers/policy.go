package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/response"
)

type PolicyHandler struct {
	policy   *services.ThresholdPolicy
	holidays *services.HolidayService
}

func NewPolicyHandler(policy *services.ThresholdPolicy, holidays *services.HolidayService) *PolicyHandler {
	return &PolicyHandler{policy: policy, holidays: holidays}
}

type PolicyView struct {
	Regime          string             `json:"regime"`
	Base            ThresholdView      `json:"base"`
	ConfidenceFloor float64            `json:"confidence_floor"`
	Multipliers     map[string]float64 `json:"multipliers"`
	Clock           string             `json:"clock"`
}

// Get describes the active threshold policy
// GET /api/policy
func (h *PolicyHandler) Get(c *gin.Context) {
	response.Success(c, PolicyView{
		Regime:          h.policy.Regime(),
		Base:            newThresholdView(h.policy.Base()),
		ConfidenceFloor: h.policy.ConfidenceFloor(),
		Multipliers:     h.policy.MultiplierTable(),
		Clock:           h.policy.Clock().Describe(),
	})
}

// Countries lists the holiday calendars usable as monitor.holiday_country
// GET /api/policy/countries
func (h *PolicyHandler) Countries(c *gin.Context) {
	countries := h.holidays.GetSupportedCountries()
	response.List(c, countries, int64(len(countries)))
}
