package zabbixapi

import "fmt"

// APIError is a JSON-RPC error object returned by the frontend
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *APIError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("zabbix api error %d: %s %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("zabbix api error %d: %s", e.Code, e.Message)
}

// HTTPError is returned when the endpoint answers with a non-200 status
type HTTPError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s request failed with HTTP %d: %s", e.Method, e.StatusCode, e.Body)
}
