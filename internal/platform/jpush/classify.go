package jpush

import (
	"encoding/json"
	"net/http"

	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// codeNoSuchAudience is returned when none of the addressed registration ids exist.
const codeNoSuchAudience = 1011

type vendorError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error *vendorError `json:"error"`
}

// messageID accepts the id as a JSON string or number.
type messageID string

func (m *messageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = messageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*m = messageID(n.String())
	return nil
}

type pushResponse struct {
	SendNo string    `json:"sendno"`
	MsgID  messageID `json:"msg_id"`
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func isAuthFailure(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// triage classifies a failed call: a transport error or any non-2xx answer.
func triage(resp *Response, err error) (dispatch.Status, *vendorError) {
	if err != nil || resp == nil {
		return dispatch.TemporaryError, nil
	}
	code := resp.StatusCode
	switch {
	case code == http.StatusTooManyRequests, code >= 500 && code < 600:
		return dispatch.TemporaryError, parseVendorError(resp.Body)
	case code >= 400 && code < 500:
		verr := parseVendorError(resp.Body)
		if verr != nil && verr.Code == codeNoSuchAudience {
			return dispatch.InvalidEndpoint, verr
		}
		return dispatch.Error, verr
	default:
		return dispatch.Unknown, nil
	}
}

func parseVendorError(body []byte) *vendorError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return nil
	}
	return eb.Error
}
