package intent

// DefaultCatalogue returns the built-in assistant intents. Used when no
// catalogue file is configured and as the baseline corpus in tests.
func DefaultCatalogue() *Catalogue {
	return NewCatalogue(1, []Definition{
		{
			ID:           "encender_luz",
			Description:  "Encender una luz o lámpara en un lugar de la casa",
			ExpertDomain: "smarthome",
			Examples: []string{
				"enciende la luz del salón",
				"pon la luz de la cocina",
				"ilumina el dormitorio",
				"dale a la luz del baño",
			},
			RequiredSlots: []string{"lugar"},
			SlotPrompts: map[string]string{
				"lugar": "¿En qué lugar quieres encender la luz?",
			},
			ToolActionID:        "encender_luz",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "apagar_luz",
			Description:  "Apagar una luz o lámpara en un lugar de la casa",
			ExpertDomain: "smarthome",
			Examples: []string{
				"apaga la luz del salón",
				"quita la luz de la cocina",
				"apaga las luces",
			},
			RequiredSlots: []string{"lugar"},
			SlotPrompts: map[string]string{
				"lugar": "¿En qué lugar quieres apagar la luz?",
			},
			ToolActionID:        "apagar_luz",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "consultar_tiempo",
			Description:  "Consultar el tiempo o la previsión meteorológica de una ubicación",
			ExpertDomain: "weather",
			Examples: []string{
				"qué tiempo hace en Madrid",
				"va a llover mañana",
				"dime la previsión del tiempo",
				"consulta el tiempo en Barcelona",
			},
			RequiredSlots: []string{"ubicacion"},
			OptionalSlots: []string{"fecha"},
			SlotPrompts: map[string]string{
				"ubicacion": "¿De qué ciudad quieres saber el tiempo?",
			},
			ToolActionID:        "consultar_tiempo",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "programar_alarma",
			Description:  "Programar una alarma o despertador a una hora concreta",
			ExpertDomain: "scheduling",
			Examples: []string{
				"ponme una alarma a las siete",
				"despiértame a las 07:30",
				"programa una alarma para mañana a las ocho",
			},
			RequiredSlots: []string{"hora"},
			OptionalSlots: []string{"fecha"},
			SlotPrompts: map[string]string{
				"hora": "¿A qué hora quieres la alarma?",
			},
			ToolActionID:        "programar_alarma",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "programar_alarma_condicional",
			Description:  "Programar una alarma condicionada a un evento, por ejemplo si llueve",
			ExpertDomain: "scheduling",
			Examples: []string{
				"si llueve mañana ponme una alarma a las siete",
				"programa una alarma a las 07:00 solo si llueve",
			},
			RequiredSlots: []string{"hora", "condicion"},
			SlotPrompts: map[string]string{
				"hora":      "¿A qué hora quieres la alarma?",
				"condicion": "¿Con qué condición debo programarla?",
			},
			ToolActionID:        "programar_alarma_condicional",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "reproducir_musica",
			Description:  "Reproducir música, una canción, un artista o un género",
			ExpertDomain: "media",
			Examples: []string{
				"pon música",
				"reproduce algo de rock",
				"pon una canción de Sabina",
				"quiero escuchar jazz",
			},
			OptionalSlots: []string{"artista", "genero", "cancion"},
			ToolActionID:  "reproducir_musica",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "crear_github_issue",
			Description:  "Crear una issue en un repositorio de GitHub",
			ExpertDomain: "devtools",
			Examples: []string{
				"crea una issue sobre el fallo del login",
				"abre un ticket en github",
			},
			RequiredSlots: []string{"titulo"},
			OptionalSlots: []string{"repositorio", "descripcion"},
			SlotPrompts: map[string]string{
				"titulo": "¿Qué título le pongo a la issue?",
			},
			ToolActionID:        "crear_github_issue",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "asignar_issue",
			Description:  "Asignar una issue de GitHub a una persona",
			ExpertDomain: "devtools",
			Examples: []string{
				"asigna la issue a María",
				"asígname ese ticket",
			},
			RequiredSlots: []string{"asignado"},
			OptionalSlots: []string{"issue_id"},
			SlotPrompts: map[string]string{
				"asignado": "¿A quién asigno la issue?",
			},
			ToolActionID:        "asignar_issue",
			ConfidenceThreshold: 0.7,
			MaxRAGExamples:      5,
		},
		{
			ID:           "ayuda",
			Description:  "El usuario pide ayuda o el sistema no entiende la petición",
			ExpertDomain: "general",
			Examples: []string{
				"ayuda",
				"qué puedes hacer",
				"no sé qué decir",
			},
			ToolActionID:        "ayuda",
			ConfidenceThreshold: 0.5,
			MaxRAGExamples:      5,
		},
		{
			ID:           "saludo",
			Description:  "El usuario saluda",
			ExpertDomain: "general",
			Examples: []string{
				"hola",
				"buenos días",
				"buenas tardes",
			},
			ConfidenceThreshold: 0.6,
			MaxRAGExamples:      5,
		},
		{
			ID:           "despedida",
			Description:  "El usuario se despide",
			ExpertDomain: "general",
			Examples: []string{
				"adiós",
				"hasta luego",
				"nos vemos",
			},
			ConfidenceThreshold: 0.6,
			MaxRAGExamples:      5,
		},
		{
			ID:           "agradecimiento",
			Description:  "El usuario da las gracias",
			ExpertDomain: "general",
			Examples: []string{
				"gracias",
				"muchas gracias",
				"te lo agradezco",
			},
			ConfidenceThreshold: 0.6,
			MaxRAGExamples:      5,
		},
	})
}

// HelpIntentID is the generic fallback intent returned when classification
// cannot do better. Consensus treats it as a sentinel: experts converging on
// it signals low certainty rather than a real user request for help.
const HelpIntentID = "ayuda"
