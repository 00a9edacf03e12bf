// Package docs registers the OpenAPI document served at /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "stockwatch"
        },
        "license": {
            "name": "MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/rules": {
            "get": {
                "produces": ["application/json"],
                "tags": ["rules"],
                "summary": "List watch rules",
                "parameters": [
                    {"type": "string", "description": "Only rules owned by this subscriber", "name": "owner", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            },
            "post": {
                "description": "A rule matches events by identifier or tag; a rule with neither matches every event. price_cap requires an available listing at or below the cap.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["rules"],
                "summary": "Create a watch rule",
                "parameters": [
                    {"description": "Watch rule", "name": "rule", "in": "body", "required": true, "schema": {"$ref": "#/definitions/rules.WatchRule"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/rules.WatchRule"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/rules/{ruleID}": {
            "delete": {
                "tags": ["rules"],
                "summary": "Delete a watch rule",
                "parameters": [
                    {"type": "string", "description": "Rule ID", "name": "ruleID", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/releases/upcoming": {
            "get": {
                "description": "Same ordering as the daily digest. Responses carry an ETag and honor If-None-Match.",
                "produces": ["application/json"],
                "tags": ["releases"],
                "summary": "Upcoming releases",
                "parameters": [
                    {"type": "integer", "description": "Horizon in days (default 90, max 365)", "name": "days", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/digest.Payload"}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/releases/{releaseID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["releases"],
                "summary": "Get release",
                "parameters": [
                    {"type": "string", "description": "Release ID (lowercase set code)", "name": "releaseID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/timeline.Release"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/releases/{releaseID}/dates": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["releases"],
                "summary": "Correct release dates",
                "parameters": [
                    {"type": "string", "description": "Release ID", "name": "releaseID", "in": "path", "required": true},
                    {"description": "Corrected dates", "name": "dates", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.DatesRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/timeline.Release"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "detail": {"type": "string"}
                    }
                }
            }
        },
        "rules.WatchRule": {
            "type": "object",
            "properties": {
                "rule_id": {"type": "string"},
                "owner": {"type": "string"},
                "identifiers": {"type": "array", "items": {"type": "string"}},
                "tags": {"type": "array", "items": {"type": "string"}},
                "price_cap": {"type": "string", "example": "249.99"},
                "preferred_vendors": {"type": "array", "items": {"type": "string"}},
                "action": {"type": "string", "enum": ["notify", "cart"]},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "handler.DatesRequest": {
            "type": "object",
            "properties": {
                "announcement": {"type": "string", "format": "date"},
                "preorder": {"type": "string", "format": "date"},
                "release": {"type": "string", "format": "date"}
            }
        },
        "digest.Summary": {
            "type": "object",
            "properties": {
                "release_id": {"type": "string"},
                "name": {"type": "string"},
                "code": {"type": "string"},
                "set_type": {"type": "string"},
                "uri": {"type": "string"},
                "state": {"type": "string", "enum": ["unannounced", "announced", "preorder_open", "release_imminent", "released", "archived"]},
                "release_date": {"type": "string", "format": "date-time"},
                "days_until": {"type": "integer"}
            }
        },
        "digest.Payload": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "generated_at": {"type": "string", "format": "date-time"},
                "horizon_days": {"type": "integer"},
                "releases": {"type": "array", "items": {"$ref": "#/definitions/digest.Summary"}}
            }
        },
        "timeline.MilestoneFiring": {
            "type": "object",
            "properties": {
                "release_id": {"type": "string"},
                "milestone_kind": {"type": "string", "example": "t_minus_7"},
                "fired_at": {"type": "string", "format": "date-time"}
            }
        },
        "timeline.Release": {
            "type": "object",
            "properties": {
                "release_id": {"type": "string"},
                "name": {"type": "string"},
                "code": {"type": "string"},
                "set_type": {"type": "string"},
                "uri": {"type": "string"},
                "known_dates": {"type": "object", "additionalProperties": {"type": "string", "format": "date-time"}},
                "state": {"type": "string"},
                "history": {"type": "array", "items": {"$ref": "#/definitions/timeline.MilestoneFiring"}},
                "discovery_seq": {"type": "integer"},
                "discovered_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "stockwatch API",
	Description:      "Watch rules, release timelines and upcoming-release listings for the stock and release watcher.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
