package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Guard Duty API",
        "description": "Timetable conflict detection and automatic substitute assignment for supervised activities.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "in": "header",
            "name": "Authorization"
        }
    },
    "tags": [
        {
            "name": "Schedules",
            "description": "Weekly timetable with conflict detection"
        },
        {
            "name": "GuardDuties",
            "description": "Substitute assignment for supervised activities"
        }
    ],
    "paths": {
        "/schedules": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "List an institute's schedule slots",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "query",
                        "name": "instituteId",
                        "type": "string",
                        "required": false
                    },
                    {
                        "in": "query",
                        "name": "day",
                        "type": "integer",
                        "required": false,
                        "description": "0 = Sunday .. 6 = Saturday"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Create schedule slot",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateScheduleRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflicting slots in error.details",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/schedules/bulk": {
            "post": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Bulk create schedule slots",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/BulkCreateSchedulesRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/schedules/availability": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Check teacher availability",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "query",
                        "name": "instituteId",
                        "type": "string",
                        "required": true
                    },
                    {
                        "in": "query",
                        "name": "teacherId",
                        "type": "string",
                        "required": true
                    },
                    {
                        "in": "query",
                        "name": "day",
                        "type": "integer",
                        "required": true
                    },
                    {
                        "in": "query",
                        "name": "start",
                        "type": "string",
                        "required": true,
                        "description": "HH:MM"
                    },
                    {
                        "in": "query",
                        "name": "end",
                        "type": "string",
                        "required": true,
                        "description": "HH:MM"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/schedules/{id}": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Get schedule slot",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Schedule ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "patch": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Update schedule slot",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Schedule ID"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UpdateScheduleRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Delete schedule slot",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Schedule ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                }
            }
        },
        "/teachers/{id}/schedules": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "List schedules by teacher",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Teacher ID"
                    },
                    {
                        "in": "query",
                        "name": "instituteId",
                        "type": "string",
                        "required": false,
                        "description": "Institute (defaults to the caller's)"
                    },
                    {
                        "in": "query",
                        "name": "day",
                        "type": "integer",
                        "required": false,
                        "description": "0 = Sunday .. 6 = Saturday"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/schedules": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "List schedules by class",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Class ID"
                    },
                    {
                        "in": "query",
                        "name": "instituteId",
                        "type": "string",
                        "required": false,
                        "description": "Institute (defaults to the caller's)"
                    },
                    {
                        "in": "query",
                        "name": "day",
                        "type": "integer",
                        "required": false,
                        "description": "0 = Sunday .. 6 = Saturday"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/rooms/{room}/schedules": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "List schedules by room",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "room",
                        "type": "string",
                        "required": true,
                        "description": "Room"
                    },
                    {
                        "in": "query",
                        "name": "instituteId",
                        "type": "string",
                        "required": true
                    },
                    {
                        "in": "query",
                        "name": "day",
                        "type": "integer",
                        "required": false,
                        "description": "0 = Sunday .. 6 = Saturday"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/institutes/{id}/schedule-stats": {
            "get": {
                "tags": [
                    "Schedules"
                ],
                "summary": "Timetable statistics",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Institute ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/activities/{id}/guard-duties": {
            "post": {
                "tags": [
                    "GuardDuties"
                ],
                "summary": "Assign substitutes for an activity",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Activity ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Assignment summary",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Activity not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "504": {
                        "description": "Run timed out; partial summary in error.details",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "get": {
                "tags": [
                    "GuardDuties"
                ],
                "summary": "List guard duties for an activity",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Activity ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/institutes/{id}/guard-duties": {
            "get": {
                "tags": [
                    "GuardDuties"
                ],
                "summary": "List an institute's guard duties",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Institute ID"
                    },
                    {
                        "in": "query",
                        "name": "status",
                        "type": "string",
                        "required": false
                    },
                    {
                        "in": "query",
                        "name": "from",
                        "type": "string",
                        "required": false,
                        "description": "YYYY-MM-DD"
                    },
                    {
                        "in": "query",
                        "name": "to",
                        "type": "string",
                        "required": false,
                        "description": "YYYY-MM-DD"
                    },
                    {
                        "in": "query",
                        "name": "page",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "in": "query",
                        "name": "limit",
                        "type": "integer",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/institutes/{id}/guard-duties/stats": {
            "get": {
                "tags": [
                    "GuardDuties"
                ],
                "summary": "Guard duty statistics",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "type": "string",
                        "required": true,
                        "description": "Institute ID"
                    },
                    {
                        "in": "query",
                        "name": "from",
                        "type": "string",
                        "required": false,
                        "description": "YYYY-MM-DD"
                    },
                    {
                        "in": "query",
                        "name": "to",
                        "type": "string",
                        "required": false,
                        "description": "YYYY-MM-DD"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/guard-duties/substitutes/search": {
            "post": {
                "tags": [
                    "GuardDuties"
                ],
                "summary": "Preview the substitute for a lesson",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SubstituteSearchRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "CreateScheduleRequest": {
            "type": "object",
            "required": [
                "institute_id",
                "teacher_id",
                "class_id",
                "subject_id",
                "day_of_week",
                "start_time",
                "end_time"
            ],
            "properties": {
                "institute_id": {
                    "type": "string"
                },
                "teacher_id": {
                    "type": "string"
                },
                "class_id": {
                    "type": "string"
                },
                "subject_id": {
                    "type": "string"
                },
                "day_of_week": {
                    "type": "integer",
                    "minimum": 0,
                    "maximum": 6
                },
                "start_time": {
                    "type": "string",
                    "example": "08:00"
                },
                "end_time": {
                    "type": "string",
                    "example": "09:30"
                },
                "room": {
                    "type": "string"
                },
                "notes": {
                    "type": "string"
                }
            }
        },
        "UpdateScheduleRequest": {
            "type": "object",
            "properties": {
                "teacher_id": {
                    "type": "string"
                },
                "class_id": {
                    "type": "string"
                },
                "subject_id": {
                    "type": "string"
                },
                "day_of_week": {
                    "type": "integer"
                },
                "start_time": {
                    "type": "string"
                },
                "end_time": {
                    "type": "string"
                },
                "room": {
                    "type": "string"
                },
                "notes": {
                    "type": "string"
                }
            }
        },
        "BulkCreateSchedulesRequest": {
            "type": "object",
            "properties": {
                "items": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/CreateScheduleRequest"
                    }
                },
                "partial_on_error": {
                    "type": "boolean"
                }
            }
        },
        "SubstituteSearchRequest": {
            "type": "object",
            "properties": {
                "institute_id": {
                    "type": "string"
                },
                "subject_id": {
                    "type": "string"
                },
                "exclude_teacher_id": {
                    "type": "string"
                },
                "day_of_week": {
                    "type": "integer"
                },
                "start_time": {
                    "type": "string"
                },
                "end_time": {
                    "type": "string"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "details": {
                    "type": "object"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
