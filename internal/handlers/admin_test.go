package handlers_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeh237/taskly/internal/handlers/testutil"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
)

func TestAdminRoutesRequireAdministrator(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateAccount("user@example.com")
	token := env.Token("user@example.com")

	w := env.Request(http.MethodPost, "/api/admin/invitations/expire", map[string]any{}, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")

	w = env.Request(http.MethodGet, "/api/admin/audit", nil, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")
}

func TestAdminExpiresPendingInvitations(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateAdmin("admin@example.com")
	env.CreateAccount("owner@example.com")
	ownerToken := env.Token("owner@example.com")
	adminToken := env.Token("admin@example.com")

	first := createProject(t, env, ownerToken, "First")
	second := createProject(t, env, ownerToken, "Second")
	invite(t, env, ownerToken, first.ID, "a@example.com")
	invite(t, env, ownerToken, first.ID, "b@example.com")
	kept := invite(t, env, ownerToken, second.ID, "c@example.com")

	w := env.Request(http.MethodPost, "/api/admin/invitations/expire", map[string]any{"project_id": first.ID}, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Expired int64 `json:"expired"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	require.Equal(t, int64(2), result.Expired)

	var stored models.Invitation
	require.NoError(t, env.DB.Take(&stored, kept.ID).Error)
	require.Equal(t, models.InvitationPending, stored.Status)

	// Running again touches nothing new.
	w = env.Request(http.MethodPost, "/api/admin/invitations/expire", map[string]any{"project_id": first.ID}, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	require.Zero(t, result.Expired)
}

func TestAdminListsAuditLog(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateAdmin("admin@example.com")
	owner := env.CreateAccount("owner@example.com")
	ownerToken := env.Token("owner@example.com")
	adminToken := env.Token("admin@example.com")
	createProject(t, env, ownerToken, "Audited")

	query := url.Values{}
	query.Set("action", services.AuditProjectCreate)
	query.Set("account_id", fmt.Sprint(owner.ID))
	w := env.Request(http.MethodGet, "/api/admin/audit?"+query.Encode(), nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var logs []models.AuditLog
	testutil.DecodeInto(t, resp.Data, &logs)
	require.Len(t, logs, 1)
	require.Equal(t, services.AuditProjectCreate, logs[0].Action)
	require.NotNil(t, resp.Meta)
	require.Equal(t, 1, resp.Meta.Total)

	w = env.Request(http.MethodGet, "/api/admin/audit?since=yesterday", nil, adminToken)
	testutil.RequireError(t, w, http.StatusBadRequest, "BAD_REQUEST")

	future := env.Clock.Now().Add(time.Hour).Format(time.RFC3339)
	w = env.Request(http.MethodGet, "/api/admin/audit?since="+url.QueryEscape(future), nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &logs)
	require.Empty(t, logs)
}
