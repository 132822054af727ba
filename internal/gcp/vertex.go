package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Listing Extractor Model Prompts ---
const ExtractorSystemPrompt = `Eres un experto en análisis de convocatorias públicas en Colombia. Tu tarea es extraer información estructurada sobre convocatorias (becas, empleos, financiamiento, etc.) de contenido web en markdown.

Responde ÚNICAMENTE con un array JSON válido. Cada convocatoria debe tener esta estructura exacta:

{
  "titulo": "Título completo de la convocatoria",
  "entidad": "Nombre de la entidad que convoca",
  "descripcion": "Descripción detallada",
  "fechaCierre": "Fecha de cierre en formato YYYY-MM-DD o null",
  "fechaPublicacion": "Fecha de publicación o apertura en formato YYYY-MM-DD o null",
  "enlace": "URL completa de la convocatoria o null",
  "monto": "Monto total de recursos disponibles o null",
  "requisitos": "Requisitos principales resumidos o null",
  "estado": "abierta o cerrada",
  "categoria": "Categoría de la convocatoria",
  "fuente": "Nombre de la entidad fuente"
}`

const ExtractorUserPrompt = `Analiza el siguiente contenido de %d sitios web y extrae TODAS las convocatorias que encuentres.

%s

INSTRUCCIONES:
1. Extrae TODAS las convocatorias encontradas en las %d fuentes.
2. Si algún campo no está disponible, usa null.
3. Si no encuentras convocatorias, responde con [].`

// VertexClient holds the pre-configured extraction model.
type VertexClient struct {
	ExtractorModel *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a new client holding the listing extractor model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractorModel := baseClient.GenerativeModel(modelName)
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	extractorModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output so the response can be decoded directly.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		ExtractorModel: extractorModel,
		baseClient:     baseClient,
	}, nil
}

// GenerateListings sends the prompt to the extractor model and returns the
// concatenated text parts of the first candidate.
func (c *VertexClient) GenerateListings(ctx context.Context, prompt string) (string, error) {
	resp, err := c.ExtractorModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate listings from gemini: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
