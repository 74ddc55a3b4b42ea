package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Sister Kampus API",
        "description": "Student and faculty academic portal: KRS registration, validation, grading and transcripts",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token lifecycle"},
        {"name": "Enrollment", "description": "KRS registration engine"},
        {"name": "Transcript", "description": "GPA and graded transcript"},
        {"name": "Catalog", "description": "Courses, schedules and terms"},
        {"name": "Students", "description": "Student directory"},
        {"name": "Documents", "description": "Shared document downloads"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate by email or NIM",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Exchange refresh token for a new pair",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/register": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Commit a KRS batch atomically",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Batch committed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate or time conflict"},
                    "422": {"description": "Credit cap exceeded or window closed"}
                }
            }
        },
        "/enrollment": {
            "delete": {
                "tags": ["Enrollment"],
                "summary": "Withdraw enrollments all-or-nothing",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WithdrawRequest"}}
                ],
                "responses": {
                    "200": {"description": "Remaining committed set", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not enrolled"}
                }
            }
        },
        "/enrollment/student/{id}": {
            "get": {
                "tags": ["Enrollment"],
                "summary": "Committed set with schedule and course detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "semester", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/student/{id}/card": {
            "get": {
                "tags": ["Enrollment"],
                "summary": "Download the KRS study plan card",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "semester", "in": "query", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["pdf", "csv"]}
                ],
                "responses": {
                    "200": {"description": "Rendered document"}
                }
            }
        },
        "/enrollment/validate": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Audit a committed set and persist verdicts",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ValidateRequest"}}
                ],
                "responses": {
                    "200": {"description": "Validation report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/{id}/grade": {
            "put": {
                "tags": ["Enrollment"],
                "summary": "Record a raw 0-100 grade, once",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GradeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already graded"}
                }
            }
        },
        "/students/{id}/gpa": {
            "get": {
                "tags": ["Transcript"],
                "summary": "Credit-weighted cumulative GPA",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/transcript": {
            "get": {
                "tags": ["Transcript"],
                "summary": "Graded transcript with GPA summary",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{token}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Download a shared document",
                "produces": ["application/pdf", "text/csv"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Invalid or expired share link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List courses",
                "parameters": [
                    {"name": "semester", "in": "query", "type": "string"},
                    {"name": "program", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Catalog"],
                "summary": "Create course",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List schedules",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Catalog"],
                "summary": "Create schedule",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/terms": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List registration periods",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Catalog"],
                "summary": "Open a registration period",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Create student account and profile",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "nim": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["password"]
        },
        "RegisterRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "semester": {"type": "string"},
                "schedule_ids": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["semester", "schedule_ids"]
        },
        "WithdrawRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "schedule_ids": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["schedule_ids"]
        },
        "ValidateRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "semester": {"type": "string"}
            },
            "required": ["student_id", "semester"]
        },
        "GradeRequest": {
            "type": "object",
            "properties": {
                "grade": {"type": "number", "minimum": 0, "maximum": 100}
            },
            "required": ["grade"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
