package auth

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "sk-kirogate-test-key"

func newKeyApp(compat bool) *fiber.App {
	app := fiber.New()
	v := NewKeyVerifier(zap.NewNop(), testKey)
	mw := v.RequireKey()
	if compat {
		mw = v.RequireKeyCompat()
	}
	app.Get("/protected", mw, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireKey_ValidBearer(t *testing.T) {
	app := newKeyApp(false)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireKey_MissingHeader(t *testing.T) {
	app := newKeyApp(false)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireKey_WrongKey(t *testing.T) {
	app := newKeyApp(false)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireKey_RejectsRawKeyWithoutBearer(t *testing.T) {
	app := newKeyApp(false)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", testKey)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireKeyCompat_XAPIKey(t *testing.T) {
	app := newKeyApp(true)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("x-api-key", testKey)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireKeyCompat_BearerStillWorks(t *testing.T) {
	app := newKeyApp(true)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireKeyCompat_WrongXAPIKeyFallsThrough(t *testing.T) {
	app := newKeyApp(true)

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("x-api-key", "wrong")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRotate_SwapsAcceptedKey(t *testing.T) {
	app := fiber.New()
	v := NewKeyVerifier(zap.NewNop(), testKey)
	app.Get("/protected", v.RequireKey(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	v.Rotate("sk-new-key")

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer sk-new-key")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
