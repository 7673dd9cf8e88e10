// Package docs registers the OpenAPI document served at /swagger/.
package docs

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
    "securityDefinitions": {
        "AdminToken": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/api/payments/address": {
            "post": {
                "tags": ["payments"], "summary": "Allocate payment address",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/model.AllocateRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.AllocateResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/payments/record": {
            "post": {
                "tags": ["payments"], "summary": "Record received payment",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/model.RecordPaymentRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RecordPaymentResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/model.RecordPaymentResponse"}}
                }
            }
        },
        "/api/payments/{address}": {
            "get": {
                "tags": ["payments"], "summary": "Payment address status", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "address", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/payments/{address}/detect": {
            "post": {
                "tags": ["payments"], "summary": "Detect payment on chain", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "address", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}
            }
        },
        "/api/admin/release": {
            "post": {
                "security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Release funds to the merchant",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/model.ReleaseRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ReleaseResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/admin/release/{txHash}": {
            "get": {
                "security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Confirm release", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "txHash", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/admin/exposure": {
            "get": {"security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Total exposure", "responses": {"200": {"description": "OK"}}}
        },
        "/api/admin/transactions": {
            "get": {"security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Ledger transactions", "responses": {"200": {"description": "OK"}}}
        },
        "/api/admin/addresses/{address}": {
            "delete": {
                "security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Remove payment address",
                "parameters": [{"type": "string", "name": "address", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/admin/database/status": {
            "get": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Critical file integrity", "responses": {"200": {"description": "OK"}}}
        },
        "/api/admin/database/backup": {
            "post": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Create backup", "responses": {"200": {"description": "OK"}}}
        },
        "/api/admin/database/backups": {
            "get": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "List backups", "responses": {"200": {"description": "OK"}}}
        },
        "/api/admin/database/backups/verify": {
            "post": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Verify backup", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/api/admin/database/backups/upload": {
            "post": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Upload backup", "responses": {"200": {"description": "OK"}, "422": {"description": "Unprocessable Entity"}}}
        },
        "/api/admin/database/backups/cleanup": {
            "post": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Remove old backups", "responses": {"200": {"description": "OK"}}}
        },
        "/api/admin/database/restore": {
            "post": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Restore backup", "responses": {"200": {"description": "OK"}, "422": {"description": "Unprocessable Entity"}}}
        },
        "/api/admin/database/recover": {
            "post": {"security": [{"AdminToken": []}], "tags": ["database"], "summary": "Auto-recover damaged files", "responses": {"200": {"description": "OK"}, "500": {"description": "Internal Server Error"}}}
        }
    },
    "definitions": {
        "model.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"}, "error": {"type": "string"},
                "code": {"type": "string"}, "isExpired": {"type": "boolean"}
            }
        },
        "model.AllocateRequest": {
            "type": "object",
            "properties": {
                "orderId": {"type": "string"}, "amount": {"type": "string"}, "fiatAmount": {"type": "string"},
                "fiatCurrency": {"type": "string"}, "cryptoType": {"type": "string", "enum": ["ETH", "SOL"]}
            }
        },
        "model.AllocateResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"}, "message": {"type": "string"}, "qr": {"type": "string"},
                "rate": {"type": "string"}, "payment": {"type": "object"}
            }
        },
        "model.RecordPaymentRequest": {
            "type": "object",
            "properties": {
                "address": {"type": "string"}, "amount": {"type": "string"},
                "txHash": {"type": "string"}, "from": {"type": "string"}
            }
        },
        "model.RecordPaymentResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"}, "error": {"type": "string"}, "status": {"type": "string"},
                "isExpired": {"type": "boolean"}, "isCorrect": {"type": "boolean"}, "criterion": {"type": "string"}
            }
        },
        "model.ReleaseRequest": {
            "type": "object",
            "properties": {"source": {"type": "string"}, "toAddress": {"type": "string"}, "amount": {"type": "string"}}
        },
        "model.ReleaseResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"}, "txHash": {"type": "string"}, "from": {"type": "string"},
                "to": {"type": "string"}, "amount": {"type": "string"}, "status": {"type": "string"},
                "attempts": {"type": "integer"}, "duplicate": {"type": "boolean"}, "sourcePolicy": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "paygate API",
	Description:      "Crypto payment gateway: address allocation, payment matching, fund release and database recovery.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
