// Package docs registra el documento Swagger del API en swag. Se mantiene a
// mano junto con las anotaciones de los handlers.
package docs

import "github.com/swaggo/swag"

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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/records": {
            "post": {
                "summary": "Crear referencia a un registro clínico",
                "tags": ["records"],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/createRecordRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/record"}},
                    "400": {"description": "Bad Request"},
                    "401": {"description": "Unauthorized"},
                    "403": {"description": "Forbidden"},
                    "422": {"description": "Unknown owner or idempotency key reuse"},
                    "503": {"description": "Audit or store unavailable"}
                }
            }
        },
        "/records/content": {
            "post": {
                "summary": "Subir contenido y crear registro",
                "tags": ["records"],
                "consumes": ["application/octet-stream"],
                "parameters": [
                    {"name": "owner_id", "in": "query", "type": "string"},
                    {"name": "record_type", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/record"}},
                    "413": {"description": "Payload Too Large"}
                }
            }
        },
        "/records/{recordID}": {
            "get": {
                "summary": "Ver metadata de un registro",
                "tags": ["records"],
                "parameters": [{"name": "recordID", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/record"}},
                    "403": {"description": "Forbidden"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/records/{recordID}/content": {
            "get": {
                "summary": "Descargar contenido de un registro",
                "tags": ["records"],
                "produces": ["application/octet-stream"],
                "parameters": [{"name": "recordID", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            }
        },
        "/records/{recordID}/amend": {
            "post": {
                "summary": "Enmendar un registro",
                "tags": ["records"],
                "parameters": [
                    {"name": "recordID", "in": "path", "required": true, "type": "string"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/amendRecordRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/record"}}, "403": {"description": "Forbidden"}}
            }
        },
        "/owners/{ownerID}/records": {
            "get": {
                "summary": "Listar registros de un paciente",
                "tags": ["records"],
                "parameters": [
                    {"name": "ownerID", "in": "path", "required": true, "type": "string"},
                    {"name": "before", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        },
        "/grants": {
            "post": {
                "summary": "Otorgar acceso",
                "tags": ["grants"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/createGrantRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/grant"}},
                    "400": {"description": "Self grant, invalid window or input"},
                    "409": {"description": "Concurrent modification"},
                    "422": {"description": "Unknown owner or grantee"}
                }
            },
            "get": {
                "summary": "Listar grants del paciente",
                "tags": ["grants"],
                "parameters": [{"name": "include_revoked", "in": "query", "type": "boolean"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/grant"}}}}
            }
        },
        "/grants/{grantID}": {
            "get": {
                "summary": "Ver un grant",
                "tags": ["grants"],
                "parameters": [{"name": "grantID", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/grant"}}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "summary": "Revocar un grant",
                "tags": ["grants"],
                "parameters": [{"name": "grantID", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/grant"}}, "403": {"description": "Not owner"}, "409": {"description": "Already revoked"}}
            }
        },
        "/me/grants": {
            "get": {
                "summary": "Grants recibidos",
                "tags": ["grants"],
                "parameters": [{"name": "include_revoked", "in": "query", "type": "boolean"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/grant"}}}}
            }
        },
        "/access-check": {
            "get": {
                "summary": "Evaluar acceso a un registro",
                "tags": ["access"],
                "parameters": [
                    {"name": "owner_id", "in": "query", "required": true, "type": "string"},
                    {"name": "record_id", "in": "query", "required": true, "type": "string"},
                    {"name": "permission", "in": "query", "type": "string", "enum": ["read", "write"]}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/decision"}}, "503": {"description": "Audit unavailable"}}
            }
        },
        "/audit": {
            "get": {
                "summary": "Exportar auditoría del paciente",
                "tags": ["audit"],
                "produces": ["application/json", "application/x-ndjson"],
                "parameters": [
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "after", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "createRecordRequest": {
            "type": "object",
            "required": ["record_type", "content_ref"],
            "properties": {
                "owner_id": {"type": "string"},
                "record_type": {"type": "string", "enum": ["consultation", "lab-result", "imaging", "prescription", "other"]},
                "content_ref": {"type": "string"}
            }
        },
        "amendRecordRequest": {
            "type": "object",
            "properties": {"content_ref": {"type": "string"}}
        },
        "record": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "owner_id": {"type": "string"},
                "author_id": {"type": "string"},
                "record_type": {"type": "string"},
                "content_ref": {"type": "string"},
                "supersedes_id": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "createGrantRequest": {
            "type": "object",
            "required": ["grantee_id", "scope"],
            "properties": {
                "grantee_id": {"type": "string"},
                "scope": {"type": "string", "enum": ["read", "write"]},
                "record_filter": {"type": "string", "example": "category:lab-result"},
                "valid_from": {"type": "string", "format": "date-time"},
                "valid_until": {"type": "string", "format": "date-time"}
            }
        },
        "grant": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "owner_id": {"type": "string"},
                "grantee_id": {"type": "string"},
                "scope": {"type": "string"},
                "record_filter": {"type": "string"},
                "valid_from": {"type": "string", "format": "date-time"},
                "valid_until": {"type": "string", "format": "date-time"},
                "status": {"type": "string"},
                "effective_status": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "revoked_at": {"type": "string", "format": "date-time"},
                "version": {"type": "integer"}
            }
        },
        "decision": {
            "type": "object",
            "properties": {
                "allowed": {"type": "boolean"},
                "reason": {"type": "string"},
                "grant_id": {"type": "string"},
                "audit_entry_id": {"type": "string"},
                "checked_at": {"type": "string", "format": "date-time"}
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Health Access Ledger API",
	Description:      "Referencias a registros clínicos, grants de acceso y auditoría.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
