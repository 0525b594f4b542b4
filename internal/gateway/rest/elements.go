package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/gateway"
)

var _ gateway.Gateway = (*Client)(nil)

// elementInfo is one element in a list or component response.
type elementInfo struct {
	Environment string `json:"envName"`
	StageNumber string `json:"stgNum"`
	System      string `json:"sysName"`
	Subsystem   string `json:"sbsName"`
	Type        string `json:"typeName"`
	Name        string `json:"elmName"`
}

func (e elementInfo) path() element.Path {
	return element.Path{
		Environment: e.Environment,
		StageNumber: e.StageNumber,
		System:      e.System,
		Subsystem:   e.Subsystem,
		Type:        e.Type,
		Name:        e.Name,
	}
}

// componentList is one entry of a component (ACM) query response.
type componentList struct {
	Components []elementInfo `json:"components"`
}

func locationSegments(env, stage, system, subsystem, typ string) []string {
	return []string{"env", env, "stgnum", stage, "sys", system, "subsys", subsystem, "type", typ, "ele"}
}

func elementSegments(p element.Path, extra ...string) []string {
	segs := append(locationSegments(p.Environment, p.StageNumber, p.System, p.Subsystem, p.Type), p.Name)
	return append(segs, extra...)
}

func changeControlQuery(q url.Values, cc element.ChangeControl) {
	q.Set("ccid", cc.CCID)
	q.Set("comment", cc.Comment)
}

// Retrieve implements gateway.Gateway.
func (c *Client) Retrieve(ctx context.Context, path element.Path) (element.Retrieved, error) {
	q := url.Values{}
	q.Set("signout", "no")
	return c.retrieve(ctx, path, q)
}

// RetrieveWithSignOut implements gateway.Gateway.
func (c *Client) RetrieveWithSignOut(ctx context.Context, path element.Path, cc element.ChangeControl, override bool) (element.Retrieved, error) {
	q := url.Values{}
	q.Set("signout", "yes")
	changeControlQuery(q, cc)
	if override {
		q.Set("oveSign", "yes")
	}
	return c.retrieve(ctx, path, q)
}

func (c *Client) retrieve(ctx context.Context, path element.Path, q url.Values) (element.Retrieved, error) {
	res, err := c.send(ctx, request{
		method:   http.MethodGet,
		segments: elementSegments(path),
		query:    q,
		accept:   "application/octet-stream",
		element:  path.String(),
	})
	if err != nil {
		return element.Retrieved{}, err
	}
	if res.status >= http.StatusMultipleChoices {
		return element.Retrieved{}, responseError(path.String(), res)
	}

	fp := res.header.Get(fingerprintHeader)
	if fp == "" {
		return element.Retrieved{}, errors.NewRemoteError(errors.ClassGeneric, "response carries no fingerprint").
			WithElement(path.String())
	}
	return element.Retrieved{Content: string(res.body), Fingerprint: element.Fingerprint(fp)}, nil
}

// SignOut implements gateway.Gateway.
func (c *Client) SignOut(ctx context.Context, path element.Path, cc element.ChangeControl, override bool) error {
	q := url.Values{}
	q.Set("action", "signout")
	changeControlQuery(q, cc)
	if override {
		q.Set("oveSign", "yes")
	}
	_, err := c.sendJSON(ctx, request{
		method:   http.MethodPatch,
		segments: elementSegments(path),
		query:    q,
		element:  path.String(),
	})
	return err
}

// SignIn implements gateway.Gateway.
func (c *Client) SignIn(ctx context.Context, path element.Path) error {
	q := url.Values{}
	q.Set("action", "signin")
	_, err := c.sendJSON(ctx, request{
		method:   http.MethodPatch,
		segments: elementSegments(path),
		query:    q,
		element:  path.String(),
	})
	return err
}

// Update implements gateway.Gateway. The content is sent as a multipart
// form together with the fingerprint it was read at.
func (c *Client) Update(ctx context.Context, path element.Path, cc element.ChangeControl, content string, fp element.Fingerprint) (gateway.UpdateResult, error) {
	body, contentType, err := updateForm(path, cc, content, fp)
	if err != nil {
		return gateway.UpdateResult{}, errors.NewRemoteError(errors.ClassGeneric, "failed to encode update").
			WithElement(path.String()).
			WithCause(err)
	}

	api, err := c.sendJSON(ctx, request{
		method:      http.MethodPut,
		segments:    elementSegments(path),
		query:       url.Values{},
		body:        body,
		contentType: contentType,
		element:     path.String(),
	})
	if err != nil {
		return gateway.UpdateResult{}, err
	}
	return gateway.UpdateResult{ReturnCode: api.ReturnCode, Messages: api.Messages}, nil
}

func updateForm(path element.Path, cc element.ChangeControl, content string, fp element.Fingerprint) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"ccid", cc.CCID},
		{"comment", cc.Comment},
		{"fingerprint", string(fp)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("fromFile", path.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write([]byte(content)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// SearchElementsInPlace implements gateway.Gateway. Only the given location
// is searched; the map route is not followed.
func (c *Client) SearchElementsInPlace(ctx context.Context, coord element.Coordinate) ([]element.Path, error) {
	q := url.Values{}
	q.Set("search", "no")
	q.Set("return", "ALL")
	q.Set("path", "LOG")
	q.Set("data", "BAS")

	segs := append(locationSegments(coord.Environment, coord.StageNumber, coord.System, coord.Subsystem, coord.Type), "*")
	api, err := c.sendJSON(ctx, request{
		method:   http.MethodGet,
		segments: segs,
		query:    q,
		element:  coord.String(),
	})
	if err != nil {
		return nil, err
	}

	var infos []elementInfo
	if err := decodeData(api, &infos); err != nil {
		return nil, errors.NewRemoteError(errors.ClassGeneric, "malformed search response").
			WithElement(coord.String()).
			WithCause(err)
	}
	paths := make([]element.Path, len(infos))
	for i, info := range infos {
		paths[i] = info.path()
	}
	return paths, nil
}

// Components implements gateway.Gateway using the component (ACM) query.
func (c *Client) Components(ctx context.Context, path element.Path) ([]element.Component, error) {
	q := url.Values{}
	q.Set("excCirc", "yes")
	q.Set("excIndirect", "no")
	q.Set("excRelated", "yes")

	api, err := c.sendJSON(ctx, request{
		method:   http.MethodGet,
		segments: elementSegments(path, "acm"),
		query:    q,
		element:  path.String(),
	})
	if err != nil {
		return nil, err
	}

	var lists []componentList
	if err := decodeData(api, &lists); err != nil {
		return nil, errors.NewRemoteError(errors.ClassGeneric, "malformed component response").
			WithElement(path.String()).
			WithCause(err)
	}
	var comps []element.Component
	for _, l := range lists {
		for _, info := range l.Components {
			comps = append(comps, info.path().Component())
		}
	}
	return comps, nil
}

func decodeData(api apiResponse, v any) error {
	if len(api.Data) == 0 || string(api.Data) == "null" {
		return nil
	}
	return json.Unmarshal(api.Data, v)
}
