// Package swagger registers the OpenAPI document served at /swagger.
// Regenerate with: swag init -g cmd/constructlink/main.go -o api/swagger
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Login user",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/logout": {
            "post": {"tags": ["auth"], "summary": "Logout", "responses": {"200": {"description": "OK"}}}
        },
        "/api/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Current user",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/audit-logs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["audit"],
                "summary": "Get audit logs",
                "parameters": [
                    {"type": "string", "name": "entity_type", "in": "query"},
                    {"type": "string", "name": "entity_id", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        },
        "/api/transfers": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "List transfers",
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "return_status", "in": "query"},
                    {"type": "string", "name": "type", "in": "query"},
                    {"type": "integer", "name": "project_id", "in": "query"},
                    {"type": "integer", "name": "asset_id", "in": "query"},
                    {"type": "boolean", "name": "overdue", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Create transfer",
                "consumes": ["application/json"],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "403": {"description": "Forbidden"}}
            }
        },
        "/api/transfers/overdue": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "List overdue loans",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/transfers/export": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Export transfers",
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "text/csv"],
                "parameters": [{"type": "string", "name": "format", "in": "query"}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        },
        "/api/transfers/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Get transfer",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/transfers/{id}/slip": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Transfer slip",
                "produces": ["application/pdf"],
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/transfers/{id}/streamline": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Streamline transfer",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "422": {"description": "Unprocessable Entity"}}
            }
        },
        "/api/transfers/{id}/notes": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Append note",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/transfers/{id}/{action}": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["transfers"],
                "summary": "Perform transfer action",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "action", "in": "path", "required": true,
                     "enum": ["verify", "approve", "dispatch", "receive", "complete", "return", "receive-return", "cancel"]}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"},
                    "403": {"description": "Forbidden"},
                    "409": {"description": "Conflict"},
                    "422": {"description": "Unprocessable Entity"}
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ConstructLink Transfer API",
	Description:      "Inter-project asset transfer workflow for construction sites.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
