//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// docTemplate is the hand-maintained subset of the swaggo output for the
// routes in server.go; `swag init` regenerates the full document.
const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/status": {"get": {"tags": ["status"], "summary": "Provisioning and session status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/models": {"get": {"tags": ["models"], "summary": "Installed artifacts", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/prepare": {
            "post": {"tags": ["models"], "summary": "Start provisioning the configured model", "responses": {"202": {"description": "Accepted"}}},
            "delete": {"tags": ["models"], "summary": "Cancel provisioning", "responses": {"202": {"description": "Accepted"}}}
        },
        "/presets": {"get": {"tags": ["session"], "summary": "Configured generation presets", "responses": {"200": {"description": "OK"}}}},
        "/session": {"get": {"tags": ["session"], "summary": "Current session snapshot", "responses": {"200": {"description": "OK"}}}},
        "/session/preset": {"post": {"tags": ["session"], "summary": "Select a preset", "consumes": ["application/json"], "responses": {"202": {"description": "Accepted"}, "404": {"description": "Unknown preset"}, "503": {"description": "Not ready"}}}},
        "/session/messages": {"post": {"tags": ["session"], "summary": "Send a prompt", "consumes": ["application/json"], "responses": {"202": {"description": "Accepted"}, "409": {"description": "Busy"}, "503": {"description": "Not ready"}}}},
        "/session/stop": {"post": {"tags": ["session"], "summary": "Stop the active generation", "responses": {"200": {"description": "OK"}}}},
        "/session/events": {"get": {"tags": ["session"], "summary": "Stream session snapshots", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "ragchat API",
	Description:      "Model provisioning and streaming chat session over HTTP.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI at /swagger/ and the document at /swagger/doc.json.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
