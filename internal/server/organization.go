package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	onboardingdomain "github.com/smallbiznis/clubhouse/internal/onboarding/domain"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name           string          `json:"name"`
	ContactName    string          `json:"contactName"`
	ContactEmail   string          `json:"contactEmail"`
	ContactPhone   string          `json:"contactPhone"`
	MonthlyFee     decimal.Decimal `json:"monthlyFee"`
	StorageLimitGB int             `json:"storageLimitGB"`
	Address        string          `json:"address"`
	City           string          `json:"city"`
	State          string          `json:"state"`
	Zip            string          `json:"zip"`
}

type checkoutResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl"`
	OrgID      string `json:"orgId"`
	OrgName    string `json:"orgName"`
	Subdomain  string `json:"subdomain"`
}

type organizationView struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Subdomain          string     `json:"subdomain"`
	ContactName        string     `json:"contactName"`
	ContactEmail       string     `json:"contactEmail"`
	MonthlyFee         string     `json:"monthlyFee"`
	StorageLimitGB     int        `json:"storageLimitGB"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	PaymentStatus      string     `json:"paymentStatus"`
	OnboardingStep     string     `json:"onboardingStep"`
	OnboardingAttempts int        `json:"onboardingAttempts"`
	PaymentURL         string     `json:"paymentUrl,omitempty"`
	CheckoutExpiresAt  *time.Time `json:"checkoutExpiresAt,omitempty"`
	ActivatedAt        *time.Time `json:"activatedAt,omitempty"`
	AbandonedAt        *time.Time `json:"abandonedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.onboarding.Provision(c.Request.Context(), onboardingdomain.Request{
		Name:           req.Name,
		ContactName:    req.ContactName,
		ContactEmail:   req.ContactEmail,
		ContactPhone:   req.ContactPhone,
		MonthlyFee:     req.MonthlyFee,
		StorageLimitGB: req.StorageLimitGB,
		Address:        req.Address,
		City:           req.City,
		State:          req.State,
		Zip:            req.Zip,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCheckoutResponse(result))
}

func (s *Server) GetOrganization(c *gin.Context) {
	id, ok := parseOrganizationID(c)
	if !ok {
		return
	}

	org, err := s.onboarding.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "organization": newOrganizationView(org)})
}

func (s *Server) ResumeCheckout(c *gin.Context) {
	id, ok := parseOrganizationID(c)
	if !ok {
		return
	}

	result, err := s.onboarding.ResumeCheckout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCheckoutResponse(result))
}

func (s *Server) AbandonOrganization(c *gin.Context) {
	id, ok := parseOrganizationID(c)
	if !ok {
		return
	}

	org, err := s.onboarding.Abandon(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "organization": newOrganizationView(org)})
}

func parseOrganizationID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid organization id"))
		return 0, false
	}
	return id, true
}

func newCheckoutResponse(result *onboardingdomain.Result) checkoutResponse {
	return checkoutResponse{
		Success:    true,
		PaymentURL: result.PaymentURL,
		OrgID:      result.OrgID.String(),
		OrgName:    result.OrgName,
		Subdomain:  result.Subdomain,
	}
}

func newOrganizationView(org *orgdomain.Organization) organizationView {
	view := organizationView{
		ID:                 org.ID.String(),
		Name:               org.Name,
		Subdomain:          org.Subdomain,
		ContactName:        org.ContactName,
		ContactEmail:       org.ContactEmail,
		MonthlyFee:         org.MonthlyFee.StringFixed(2),
		StorageLimitGB:     org.StorageLimitGB,
		SubscriptionStatus: string(org.SubscriptionStatus),
		PaymentStatus:      string(org.PaymentStatus),
		OnboardingStep:     string(org.OnboardingStep),
		OnboardingAttempts: org.OnboardingAttempts,
		CheckoutExpiresAt:  org.CheckoutExpiresAt,
		ActivatedAt:        org.ActivatedAt,
		AbandonedAt:        org.AbandonedAt,
		CreatedAt:          org.CreatedAt,
	}
	if org.CheckoutURL != nil && org.SubscriptionStatus == orgdomain.SubscriptionStatusPendingPayment {
		view.PaymentURL = *org.CheckoutURL
	}
	return view
}
