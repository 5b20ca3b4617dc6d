package rest

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util"
	"github.com/bwise1/civic_patrol/util/tracing"
	"github.com/bwise1/civic_patrol/util/values"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
)

var queryDecoder = newQueryDecoder()

// filters travel as query strings encoded from their url tags
func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.SetAliasTag("url")
	d.IgnoreUnknownKeys(true)
	return d
}

func (api *API) CollectionRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(api.RequireLogin)
		r.Method(http.MethodPost, "/points", Handler(api.AwardPoints))
		r.Method(http.MethodPost, "/token", Handler(api.RefreshToken))

		r.Method(http.MethodPost, "/{collection}", Handler(api.InsertRecord))
		r.Method(http.MethodGet, "/{collection}", Handler(api.ListRecords))
		r.Method(http.MethodGet, "/{collection}/{id}", Handler(api.GetRecord))
		r.Method(http.MethodPatch, "/{collection}/{id}", Handler(api.UpdateRecord))
		r.Method(http.MethodDelete, "/{collection}/{id}", Handler(api.DeleteRecord))
	})

	return mux
}

func collectionParam(r *http.Request) model.Collection {
	return model.Collection(chi.URLParam(r, "collection"))
}

func idParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

func (api *API) InsertRecord(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	var body json.RawMessage
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &body); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}

	data, status, message, err := api.InsertRecordHelper(r.Context(), actor, collectionParam(r), body)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       data,
	}
}

func (api *API) UpdateRecord(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	var req model.UpdateRequest
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}

	data, status, message, err := api.UpdateRecordHelper(r.Context(), actor, collectionParam(r), idParam(r), req)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       data,
	}
}

func (api *API) DeleteRecord(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	data, status, message, err := api.DeleteRecordHelper(r.Context(), actor, collectionParam(r), idParam(r))
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       data,
	}
}

func (api *API) GetRecord(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	data, status, message, err := api.GetRecordHelper(r.Context(), actor, collectionParam(r), idParam(r))
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       data,
	}
}

func (api *API) ListRecords(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	var filter model.Filter
	if err := queryDecoder.Decode(&filter, r.URL.Query()); err != nil {
		return respondWithError(err, "invalid filter", values.BadRequestBody, &tc)
	}

	data, status, message, err := api.ListRecordsHelper(r.Context(), actor, collectionParam(r), filter)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       data,
	}
}

func (api *API) AwardPoints(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	var req pointsRequest
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}

	status, message, err := api.AwardPointsHelper(r.Context(), actor, req)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
	}
}

// RefreshToken exchanges a valid access token for a fresh one.
func (api *API) RefreshToken(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	actor, err := util.GetIdentityFromContext(r.Context())
	if err != nil {
		return respondWithError(err, "unable to get user ID from context", values.NotAuthorised, &tc)
	}

	token, expiresAt, err := api.createToken(actor)
	if err != nil {
		return respondWithError(err, values.SystemErr, values.Error, &tc)
	}

	return &ServerResponse{
		Message:    "token refreshed",
		Status:     values.Success,
		StatusCode: http.StatusOK,
		Data: map[string]interface{}{
			"token":      token,
			"expires_at": expiresAt,
		},
	}
}
