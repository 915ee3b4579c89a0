package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const (
	vec3Schema  = `{"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}`
	colorSchema = `{"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 4}`
)

// paramSchemas holds the JSON schema of each command's params object.
// Unknown keys are rejected.
var paramSchemas = map[CommandType]string{
	GetSceneInfo: `{"type": "object", "additionalProperties": false}`,
	CreateObject: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"type": {"type": "string"},
			"name": {"type": "string"},
			"location": ` + vec3Schema + `,
			"rotation": ` + vec3Schema + `,
			"scale": ` + vec3Schema + `,
			"align": {"type": "string"},
			"major_segments": {"type": "integer", "minimum": 3},
			"minor_segments": {"type": "integer", "minimum": 3},
			"mode": {"type": "string", "enum": ["MAJOR_MINOR", "EXT_INT"]},
			"major_radius": {"type": "number"},
			"minor_radius": {"type": "number"},
			"abso_major_rad": {"type": "number"},
			"abso_minor_rad": {"type": "number"},
			"generate_uvs": {"type": "boolean"}
		}
	}`,
	ModifyObject: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["name"],
		"properties": {
			"name": {"type": "string"},
			"location": ` + vec3Schema + `,
			"rotation": ` + vec3Schema + `,
			"scale": ` + vec3Schema + `,
			"visible": {"type": "boolean"}
		}
	}`,
	DeleteObject: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`,
	GetObjectInfo: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`,
	ExecuteCode: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["code"],
		"properties": {"code": {"type": "string"}}
	}`,
	SetMaterial: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["object_name"],
		"properties": {
			"object_name": {"type": "string"},
			"material_name": {"type": ["string", "null"]},
			"create_if_missing": {"type": "boolean"},
			"color": {"oneOf": [` + colorSchema + `, {"type": "null"}]}
		}
	}`,
	GetCSMStatus: `{"type": "object", "additionalProperties": false}`,
	SearchCSMModels: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["search_text"],
		"properties": {
			"search_text": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1},
			"tier": {"type": ["string", "null"]}
		}
	}`,
	ImportCSMModel: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["model_id", "mesh_url_glb"],
		"properties": {
			"model_id": {"type": "string"},
			"mesh_url_glb": {"type": "string"},
			"name": {"type": ["string", "null"]}
		}
	}`,
	AnimateObject: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["object_name"],
		"properties": {
			"object_name": {"type": "string"},
			"animation_prompt": {"type": ["string", "null"]},
			"animation_fbx_path": {"type": ["string", "null"]},
			"temp_format": {"type": "string", "enum": ["glb", "fbx"]},
			"handle_original": {"type": "string", "enum": ["keep", "hide", "delete"]},
			"collection_name": {"type": ["string", "null"]}
		}
	}`,
	GetCorrectTier: `{"type": "object", "additionalProperties": false}`,
	ImportFile: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["filepath"],
		"properties": {
			"filepath": {"type": "string"},
			"name": {"type": ["string", "null"]}
		}
	}`,
}

func compileSchema(t CommandType) (*gojsonschema.Schema, error) {
	src, ok := paramSchemas[t]
	if !ok {
		return nil, fmt.Errorf("no params schema for %s", t)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compile params schema for %s: %w", t, err)
	}
	return schema, nil
}

// validateParams checks params against schema and reports every violation
// in one message.
func validateParams(t CommandType, schema *gojsonschema.Schema, params map[string]any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("Invalid parameters for %s: %w", t, err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("Invalid parameters for %s: %s", t, strings.Join(details, "; "))
}

// decodeParams copies params into a typed struct. Fields already set on p
// act as defaults for absent keys.
func decodeParams(params map[string]any, p any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
