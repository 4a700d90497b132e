package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"event-passport/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVisitor = "3c1b9a6e-8f2d-4e7a-b5c4-9d0e1f2a3b4c"

func echoVisitor(c *fiber.Ctx) error {
	return c.SendString(VisitorID(c))
}

func TestVisitorContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/p", VisitorContextMiddleware(), echoVisitor)

	req := httptest.NewRequest("GET", "/p", nil)
	req.Header.Set(VisitorIDHeader, testVisitor)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testVisitor, resp.Header.Get(VisitorIDHeader))

	resp, err = app.Test(httptest.NewRequest("GET", "/p", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get(VisitorIDHeader), 36)

	req = httptest.NewRequest("GET", "/p", nil)
	req.Header.Set(VisitorIDHeader, "robert'); drop table")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSSEVisitorMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/s", SSEVisitorMiddleware(), echoVisitor)

	resp, err := app.Test(httptest.NewRequest("GET", "/s?visitor_id="+testVisitor, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/s", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminAuthMiddleware(t *testing.T) {
	auth, err := services.NewAdminAuth("", "letmein", "jwt-secret", time.Hour, nil)
	require.NoError(t, err)
	app := fiber.New()
	app.Get("/admin", AdminAuthMiddleware(auth), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest("GET", "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := auth.Login("letmein")
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	other, err := services.NewAdminAuth("", "letmein", "another-secret", time.Hour, nil)
	require.NoError(t, err)
	forged, _, err := other.Login("letmein")
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestScanRateLimitInMemory(t *testing.T) {
	app := fiber.New()
	app.Post("/passports/:id/progress/badges/:badgeId/scan", VisitorContextMiddleware(),
		ScanRateLimitMiddleware(nil, 2, time.Minute),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	scan := func(badge, visitor string) int {
		req := httptest.NewRequest("POST", "/passports/devfest/progress/badges/"+badge+"/scan", nil)
		if visitor != "" {
			req.Header.Set(VisitorIDHeader, visitor)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, scan("workshop", testVisitor))
	assert.Equal(t, http.StatusOK, scan("workshop", testVisitor))
	assert.Equal(t, http.StatusTooManyRequests, scan("workshop", testVisitor))
	assert.Equal(t, http.StatusTooManyRequests, scan("workshop", "9a7b6c5d-4e3f-4a1b-8c2d-1e0f9a8b7c6d"),
		"a new visitor id does not reset the limit")
	assert.Equal(t, http.StatusOK, scan("keynote", testVisitor), "limits are per badge")
}

func TestScanRateLimitIgnoresMintedVisitorIDs(t *testing.T) {
	app := fiber.New()
	app.Post("/passports/:id/progress/badges/:badgeId/scan", VisitorContextMiddleware(),
		ScanRateLimitMiddleware(nil, 2, time.Minute),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	accepted := 0
	for i := 0; i < 20; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/passports/devfest/progress/badges/workshop/scan", nil))
		require.NoError(t, err)
		if resp.StatusCode == http.StatusOK {
			accepted++
		}
	}
	assert.Equal(t, 2, accepted)
}
