package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the document service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>diploma-backend Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the document, ledger and auth endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "diploma-backend", "version": "v1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Document": { "type": "object", "properties": {
        "id": {"type":"string"}, "title": {"type":"string"}, "description": {"type":"string"},
        "contentHash": {"type":"string"}, "size": {"type":"integer"},
        "status": {"type":"string","enum":["DRAFT","APPROVED","REJECTED"]},
        "ownerId": {"type":"string"}, "createdAt": {"type":"string","format":"date-time"}, "updatedAt": {"type":"string","format":"date-time"} } },
      "Entry": { "type": "object", "properties": {
        "entryId": {"type":"integer"}, "documentId": {"type":"string"}, "position": {"type":"integer"},
        "kind": {"type":"string"}, "contentHash": {"type":"string"}, "reference": {"type":"string"},
        "network": {"type":"string"}, "committedBy": {"type":"string"}, "committedAt": {"type":"string","format":"date-time"} } }
    }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/documents": {
      "get": { "summary": "List documents visible to the caller", "responses": { "200": { "description": "documents" } } },
      "post": {
        "summary": "Upload a document",
        "requestBody": { "content": { "multipart/form-data": { "schema": {"type":"object","properties":{"file":{"type":"string","format":"binary"},"title":{"type":"string"},"description":{"type":"string"}}}}}},
        "responses": { "201": { "description": "document created in DRAFT" }, "400": { "description": "invalid input" }, "413": { "description": "file too large" }, "503": { "description": "storage or ledger unavailable" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Get a document with its ledger entries", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "patch": { "summary": "Update title or description (owner only)", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"}}}}}}, "responses": { "200": { "description": "updated" }, "400": { "description": "invalid input" }, "403": { "description": "forbidden" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete a document (admin only, history is kept)", "responses": { "204": { "description": "deleted" }, "403": { "description": "forbidden" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/file": {
      "get": { "summary": "Download the stored bytes", "responses": { "200": { "description": "file content" }, "404": { "description": "not found" }, "500": { "description": "integrity check failed" } } }
    },
    "/api/documents/{id}/status": {
      "put": { "summary": "Approve or reject a DRAFT document (admin only)", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"status":{"type":"string","enum":["APPROVED","REJECTED"]}}}}}}, "responses": { "200": { "description": "status changed" }, "403": { "description": "forbidden" }, "409": { "description": "invalid transition" } } }
    },
    "/api/documents/{id}/history": {
      "get": { "summary": "Ledger history of a document", "responses": { "200": { "description": "entries in position order" } } }
    },
    "/api/documents/{id}/history/verify": {
      "get": { "summary": "Re-verify every ledger entry of a document", "responses": { "200": { "description": "verification result" }, "404": { "description": "no history" } } }
    },
    "/api/auth/token": {
      "post": { "summary": "Issue a development access token", "security": [], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"sub":{"type":"string"},"role":{"type":"string"}}}}}}, "responses": { "200": { "description": "access token" } } }
    },
    "/api/auth/revoke": {
      "post": { "summary": "Revoke the presented access token", "responses": { "200": { "description": "revoked" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "security": [], "responses": { "200": { "description": "metrics" } } } }
  }
}`
