package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ads-console/internal/ads"
	"ads-console/internal/audit"
	"ads-console/internal/auth"
	"ads-console/internal/mutation"
	"ads-console/internal/query"
	"ads-console/internal/rbac"

	"github.com/gin-gonic/gin"
)

// CredentialChecker validates operator login credentials. Deployments plug in
// their identity backend; without one the login route reports unconfigured.
type CredentialChecker interface {
	Check(ctx context.Context, username, password string) (auth.Identity, error)
}

var ErrBadCredentials = errors.New("httpapi: bad credentials")

// Handlers hold the wired dependencies for all HTTP routes.
// Handlers stay thin: decode, delegate, encode. Business rules live in
// internal/mutation and internal/query.
type Handlers struct {
	Auth        *auth.Manager
	Actors      auth.Provider
	Credentials CredentialChecker
	Mutations   *mutation.Coordinator
	Audit       *query.Engine
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h Handlers) Login(c *gin.Context) {
	if h.Credentials == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "identity backend not configured"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	identity, err := h.Credentials.Check(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), identity.UserID, identity.AccountID, identity.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}

	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	// The refresh token carries no role; re-resolving it belongs to the
	// identity backend. Until one is wired, refreshed access tokens default
	// to the read-only analyst role.
	role := claims.Role
	if role == "" {
		role = rbac.RoleAnalyst
	}

	pair, err := h.Auth.IssuePair(time.Now(), claims.UserID, claims.AccountID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

type mutationRequest struct {
	EntityType    string            `json:"entity_type" binding:"required"`
	EntityID      string            `json:"entity_id"`
	Operation     string            `json:"operation" binding:"required"`
	Fields        map[string]string `json:"fields"`
	CorrelationID string            `json:"correlation_id"`
}

func (r mutationRequest) toDomain(accountID string) (mutation.Request, error) {
	changes, err := ads.ParseChanges(ads.EntityType(r.EntityType), r.Fields)
	if err != nil {
		return mutation.Request{}, err
	}
	return mutation.Request{
		AccountID:  accountID,
		EntityType: ads.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		Operation:  ads.Operation(r.Operation),
		Changes:    changes,
	}, nil
}

// SubmitMutation performs one external mutation and returns its audit record.
//
// Status mapping distinguishes the three terminal situations a caller must
// tell apart: the mutation was attempted (200, read the record's outcome),
// it was never attempted (400/409), or its state is unknown because the
// audit append failed (500).
func (h Handlers) SubmitMutation(c *gin.Context) {
	actor, err := h.Actors.CurrentActor(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity missing"})
		return
	}

	var req mutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type and operation required"})
		return
	}

	domainReq, err := req.toDomain(actor.AccountID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.Mutations.Submit(c.Request.Context(), domainReq, actor, req.CorrelationID)
	writeSubmitResult(c, rec, err)
}

type batchRequest struct {
	Mutations []mutationRequest `json:"mutations" binding:"required"`
}

// SubmitBatch performs several mutations as one logical action sharing a
// correlation id. Partial progress is normal: each record reports its own
// outcome, and the response is 200 unless audit persistence failed.
func (h Handlers) SubmitBatch(c *gin.Context) {
	actor, err := h.Actors.CurrentActor(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity missing"})
		return
	}

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Mutations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mutations required"})
		return
	}

	reqs := make([]mutation.Request, 0, len(req.Mutations))
	for i, m := range req.Mutations {
		dr, err := m.toDomain(actor.AccountID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": i})
			return
		}
		reqs = append(reqs, dr)
	}

	correlationID, records, err := h.Mutations.SubmitBatch(c.Request.Context(), reqs, actor)

	var pe *mutation.PersistenceError
	if errors.As(err, &pe) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "audit persistence failed, mutation state unknown",
			"correlation_id": correlationID,
			"records":        records,
		})
		return
	}

	resp := gin.H{"correlation_id": correlationID, "records": records}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func writeSubmitResult(c *gin.Context, rec audit.Record, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"record": rec})
	case errors.Is(err, mutation.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, mutation.ErrPrecheckFailed):
		// Recorded but not applied.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "record": rec})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit persistence failed, mutation state unknown"})
	}
}

// ListAudit serves filtered, cursor-paginated audit records. Callers are
// confined to their own account unless they hold super_admin.
func (h Handlers) ListAudit(c *gin.Context) {
	f, page, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recs, err := h.Audit.List(c.Request.Context(), f, page)
	if err != nil {
		if errors.Is(err, query.ErrInvalidFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}

	resp := gin.H{"records": recs}
	if len(recs) > 0 {
		resp["next_after_id"] = recs[len(recs)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

// ExportAudit streams matching records as CSV or JSONL.
func (h Handlers) ExportAudit(c *gin.Context) {
	f, _, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := c.DefaultQuery("format", query.FormatCSV)
	switch format {
	case query.FormatCSV:
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="audit.csv"`)
	case query.FormatJSONL:
		c.Header("Content-Type", "application/x-ndjson")
		c.Header("Content-Disposition", `attachment; filename="audit.jsonl"`)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or jsonl"})
		return
	}

	if err := h.Audit.Export(c.Request.Context(), f, format, c.Writer); err != nil {
		// Headers may already be out; the truncated body is all we can signal.
		_ = c.Error(err)
	}
}

// GetByCorrelation returns every record of one logical user action.
func (h Handlers) GetByCorrelation(c *gin.Context) {
	accountID, err := scopedAccountID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}

	recs, err := h.Audit.ByCorrelation(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		if errors.Is(err, query.ErrInvalidFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// filterFromQuery decodes list/export query params. The account filter is
// forced to the caller's own account unless they are super_admin.
func filterFromQuery(c *gin.Context) (audit.Filter, audit.Page, error) {
	accountID, err := scopedAccountID(c)
	if err != nil {
		return audit.Filter{}, audit.Page{}, err
	}

	f := audit.Filter{
		AccountID:     accountID,
		Actor:         c.Query("actor"),
		EntityType:    ads.EntityType(c.Query("entity_type")),
		Outcome:       audit.Outcome(c.Query("outcome")),
		CorrelationID: c.Query("correlation_id"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, audit.Page{}, errors.New("from must be RFC3339")
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, audit.Page{}, errors.New("to must be RFC3339")
		}
		f.To = t
	}

	var page audit.Page
	if v := c.Query("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return audit.Filter{}, audit.Page{}, errors.New("after_id must be a non-negative integer")
		}
		page.AfterID = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return audit.Filter{}, audit.Page{}, errors.New("limit must be a non-negative integer")
		}
		page.Limit = n
	}
	return f, page, nil
}

func scopedAccountID(c *gin.Context) (string, error) {
	ctx := c.Request.Context()
	role, _ := auth.Role(ctx)
	if rbac.IsSuperAdmin(role) {
		// Super admins may inspect any account, or all when unset.
		return c.Query("account_id"), nil
	}
	return auth.AccountID(ctx)
}
