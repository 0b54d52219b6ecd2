package handler // handler package contains the HTTP handlers of the check-in server

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/event-checkin/internal/model"
)

// fail writes the JSON error body shared by all handlers.  When err
// carries a model.Reason it is included so clients can classify the
// failure without parsing the message.
func fail(c echo.Context, status int, msg string, err error) error {
    body := echo.Map{"error": msg}
    if r := model.ReasonOf(err); r != model.ReasonNone {
        body["reason"] = r
    }
    return c.JSON(status, body)
}

// unavailable is the response for a backend that could not be reached.
func unavailable(c echo.Context, err error) error {
    c.Logger().Warnf("backend unavailable: %v", err)
    return fail(c, http.StatusServiceUnavailable, "backend unavailable", model.Unavailable(err))
}
