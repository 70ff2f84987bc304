package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/billing/stripe"
	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	invitationdomain "github.com/smallbiznis/clubhouse/internal/invitation/domain"
	invitationrepo "github.com/smallbiznis/clubhouse/internal/invitation/repository"
	invitationservice "github.com/smallbiznis/clubhouse/internal/invitation/service"
	"github.com/smallbiznis/clubhouse/internal/migration"
	onboardingservice "github.com/smallbiznis/clubhouse/internal/onboarding/service"
	orgrepo "github.com/smallbiznis/clubhouse/internal/organization/repository"
	orgservice "github.com/smallbiznis/clubhouse/internal/organization/service"
	webhookrepo "github.com/smallbiznis/clubhouse/internal/webhook/repository"
	webhookservice "github.com/smallbiznis/clubhouse/internal/webhook/service"
	dbpkg "github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

const e2eWebhookSecret = "whsec_e2e"

type capturedInvites struct {
	mu         sync.Mutex
	deliveries []invitationdomain.Delivery
}

func (c *capturedInvites) SendInvite(_ context.Context, d invitationdomain.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, d)
	return nil
}

func (c *capturedInvites) all() []invitationdomain.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]invitationdomain.Delivery(nil), c.deliveries...)
}

// newStripeBackend answers the two Stripe calls made during provisioning.
func newStripeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/checkout/sessions":
			expires := time.Now().Add(24 * time.Hour).Unix()
			_, _ = fmt.Fprintf(w, `{"id":"cs_e2e_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_e2e_1","expires_at":%d}`, expires)
		case strings.HasPrefix(r.URL.Path, "/v1/prices"):
			_, _ = io.WriteString(w, `{"id":"price_e2e","object":"price","unit_amount":15000,"currency":"usd","active":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"unknown path"}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newE2EServer(t *testing.T) (*Server, *capturedInvites) {
	t.Helper()
	conn, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	cred, err := rls.NewServiceCredential("e2e")
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Environment: "test",
		Onboarding: config.OnboardingConfig{
			BaseURL:               "https://app.clubhouse.test",
			DefaultStorageLimitGB: 1,
			ExternalCallTimeout:   5 * time.Second,
		},
	}

	backend := newStripeBackend(t)
	gateway, err := stripe.New(stripe.Config{
		SecretKey:     "sk_test_e2e",
		WebhookSecret: e2eWebhookSecret,
		ProductID:     "prod_clubhouse",
		Currency:      "usd",
		APIURL:        backend.URL,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	orgs := orgservice.NewService(orgservice.Params{
		DB: conn, Repo: orgrepo.NewRepository(conn), GenID: node, Clock: fake, Log: zap.NewNop(), Config: cfg,
	})
	invites := &capturedInvites{}
	inviter := invitationservice.NewService(invitationservice.Params{
		DB:     conn,
		Repo:   invitationrepo.NewRepository(conn),
		Sender: invites,
		Policy: config.NewStaticInvitePolicy(config.DefaultInvitePolicy()),
		GenID:  node,
		Clock:  fake,
		Log:    zap.NewNop(),
	})
	onboarding := onboardingservice.NewService(onboardingservice.Params{
		Orgs:     orgs,
		Prices:   gateway,
		Checkout: gateway,
		Cred:     cred,
		Config:   cfg,
		Log:      zap.NewNop(),
	})
	webhooks := webhookservice.NewService(webhookservice.Params{
		DB:       conn,
		Repo:     webhookrepo.NewRepository(conn),
		Verifier: gateway,
		Orgs:     orgs,
		Inviter:  inviter,
		Cred:     cred,
		GenID:    node,
		Clock:    fake,
		Config:   cfg,
		Log:      zap.NewNop(),
	})

	return newTestServer(cfg, onboarding, webhooks, nil), invites
}

func signStripePayload(payload string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(e2eWebhookSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutCompletedPayload(eventID, orgID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","created":1772366400,"data":{"object":{"id":"cs_e2e_1","object":"checkout.session","customer":"cus_e2e","subscription":"sub_e2e","metadata":{"org_id":%q,"contact_email":"a@b.com","contact_name":"John Wick","contact_phone":"555-0102"}}}}`,
		eventID, orgID)
}

func TestProvisionPayAndInviteEndToEnd(t *testing.T) {
	srv, invites := newE2EServer(t)
	h := srv.Engine()

	resp := doJSON(t, h, http.MethodPost, "/api/organizations", denverHikingBody, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	created := decodeBody(t, resp)
	assert.Equal(t, true, created["success"])
	assert.Equal(t, "denver-hiking", created["subdomain"])
	assert.Equal(t, "Denver Hiking", created["orgName"])
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_e2e_1", created["paymentUrl"])
	orgID, _ := created["orgId"].(string)
	require.NotEmpty(t, orgID)

	resp = doJSON(t, h, http.MethodGet, "/api/organizations/"+orgID, "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	pending := decodeBody(t, resp)["organization"].(map[string]any)
	assert.Equal(t, "pending_payment", pending["subscriptionStatus"])
	assert.Equal(t, "pending", pending["paymentStatus"])
	assert.Equal(t, "150.00", pending["monthlyFee"])

	payload := checkoutCompletedPayload("evt_e2e_1", orgID)
	resp = doJSON(t, h, http.MethodPost, "/webhooks/stripe", payload,
		map[string]string{"Stripe-Signature": signStripePayload(payload)})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"received":true}`, resp.Body.String())

	resp = doJSON(t, h, http.MethodGet, "/api/organizations/"+orgID, "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	active := decodeBody(t, resp)["organization"].(map[string]any)
	assert.Equal(t, "active", active["subscriptionStatus"])
	assert.Equal(t, "good_standing", active["paymentStatus"])
	assert.Nil(t, active["paymentUrl"])

	delivered := invites.all()
	require.Len(t, delivered, 1)
	assert.Equal(t, "a@b.com", delivered[0].Email)
	assert.Equal(t, orgID, delivered[0].OrgID.String())

	// Redelivery converges without a second invite.
	resp = doJSON(t, h, http.MethodPost, "/webhooks/stripe", payload,
		map[string]string{"Stripe-Signature": signStripePayload(payload)})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, invites.all(), 1)

	resp = doJSON(t, h, http.MethodPost, "/api/organizations/"+orgID+"/checkout", "", nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestWebhookRejectsForgedSignature(t *testing.T) {
	srv, invites := newE2EServer(t)

	payload := checkoutCompletedPayload("evt_forged", "42")
	resp := doJSON(t, srv.Engine(), http.MethodPost, "/webhooks/stripe", payload,
		map[string]string{"Stripe-Signature": "t=1700000000,v1=deadbeef"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.True(t, strings.HasPrefix(resp.Body.String(), "Webhook Error: "))
	assert.Empty(t, invites.all())
}

func TestProvisionSecondClubGetsSuffix(t *testing.T) {
	srv, _ := newE2EServer(t)
	h := srv.Engine()

	resp := doJSON(t, h, http.MethodPost, "/api/organizations", denverHikingBody, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = doJSON(t, h, http.MethodPost, "/api/organizations", denverHikingBody, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "denver-hiking-1", decodeBody(t, resp)["subdomain"])
}
