package tools

import "encoding/json"

// objectSchema builds a JSON Schema for an object with the given typed
// properties, required names, and no additional properties.
func objectSchema(properties map[string]string, required ...string) json.RawMessage {
	props := make(map[string]any, len(properties))
	for name, typ := range properties {
		props[name] = map[string]any{"type": typ}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		panic("tools: build schema: " + err.Error())
	}
	return raw
}

// BuiltinActions returns the assistant's standard action catalogue.
// Endpoints are left empty; deployments wire them via configuration
// (tools.endpoints).
func BuiltinActions() []Action {
	return []Action{
		{
			ID:          "encender_luz",
			Description: "Enciende la luz de un lugar de la casa",
			InputSchema: objectSchema(map[string]string{
				"lugar":      "string",
				"intensidad": "number",
			}, "lugar"),
			OutputKeys:       []string{"lugar", "estado"},
			SideEffect:       SideEffectWrite,
			Idempotent:       true,
			SupportsRollback: true,
		},
		{
			ID:          "apagar_luz",
			Description: "Apaga la luz de un lugar de la casa",
			InputSchema: objectSchema(map[string]string{
				"lugar": "string",
			}, "lugar"),
			OutputKeys:       []string{"lugar", "estado"},
			SideEffect:       SideEffectWrite,
			Idempotent:       true,
			SupportsRollback: true,
		},
		{
			ID:          "consultar_tiempo",
			Description: "Consulta el tiempo actual o la previsión de una ubicación",
			InputSchema: objectSchema(map[string]string{
				"ubicacion": "string",
				"fecha":     "string",
			}, "ubicacion"),
			OutputKeys: []string{"location", "temperature", "condition"},
			SideEffect: SideEffectRead,
			Idempotent: true,
		},
		{
			ID:          "programar_alarma",
			Description: "Programa una alarma a una hora concreta",
			InputSchema: objectSchema(map[string]string{
				"hora":  "string",
				"fecha": "string",
			}, "hora"),
			OutputKeys:       []string{"alarm_id", "scheduled_time"},
			SideEffect:       SideEffectWrite,
			Idempotent:       false,
			SupportsRollback: true,
		},
		{
			ID:          "programar_alarma_condicional",
			Description: "Programa una alarma condicionada a un evento externo",
			InputSchema: objectSchema(map[string]string{
				"hora":      "string",
				"condicion": "string",
				"fecha":     "string",
			}, "hora", "condicion"),
			OutputKeys:       []string{"alarm_id", "scheduled_time", "condition"},
			SideEffect:       SideEffectWrite,
			Idempotent:       false,
			SupportsRollback: true,
		},
		{
			ID:          "reproducir_musica",
			Description: "Reproduce música por artista, género o canción",
			InputSchema: objectSchema(map[string]string{
				"artista": "string",
				"genero":  "string",
				"cancion": "string",
			}),
			OutputKeys: []string{"playing"},
			SideEffect: SideEffectWrite,
			Idempotent: true,
		},
		{
			ID:          "crear_github_issue",
			Description: "Crea una issue en un repositorio de GitHub",
			InputSchema: objectSchema(map[string]string{
				"titulo":      "string",
				"descripcion": "string",
				"repositorio": "string",
			}, "titulo"),
			OutputKeys:       []string{"issue_id", "url"},
			SideEffect:       SideEffectExternal,
			Idempotent:       false,
			SupportsRollback: true,
		},
		{
			ID:          "asignar_issue",
			Description: "Asigna una issue de GitHub a una persona",
			InputSchema: objectSchema(map[string]string{
				"asignado": "string",
				"issue_id": "number",
			}, "asignado"),
			OutputKeys: []string{"issue_id", "assignee"},
			SideEffect: SideEffectExternal,
			Idempotent: true,
		},
		{
			ID:          "ayuda",
			Description: "Devuelve un mensaje de ayuda con las capacidades del asistente",
			InputSchema: objectSchema(map[string]string{
				"tema": "string",
			}),
			OutputKeys: []string{"mensaje"},
			SideEffect: SideEffectRead,
			Idempotent: true,
		},
		{
			ID:          "saludo",
			Description: "Responde a un saludo del usuario",
			InputSchema: objectSchema(map[string]string{}),
			OutputKeys:  []string{"mensaje"},
			SideEffect:  SideEffectRead,
			Idempotent:  true,
		},
		{
			ID:          "despedida",
			Description: "Responde a una despedida del usuario",
			InputSchema: objectSchema(map[string]string{}),
			OutputKeys:  []string{"mensaje"},
			SideEffect:  SideEffectRead,
			Idempotent:  true,
		},
		{
			ID:          "agradecimiento",
			Description: "Responde a un agradecimiento del usuario",
			InputSchema: objectSchema(map[string]string{}),
			OutputKeys:  []string{"mensaje"},
			SideEffect:  SideEffectRead,
			Idempotent:  true,
		},
	}
}
