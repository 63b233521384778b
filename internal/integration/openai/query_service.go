package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
)

// Commands the agent may choose
const (
	CommandStats        = "Stats"
	CommandAreas        = "Areas"
	CommandSpecies      = "Species"
	CommandYearly       = "Yearly"
	CommandGeneralQuery = "GeneralQuery"
)

// AgentResponse defines the structured output from the OpenAI agent.
// Zero years and empty lists mean "no restriction".
type AgentResponse struct {
	CommandName string   `json:"command_name" jsonschema_description:"One of Stats, Areas, Species, Yearly or GeneralQuery"`
	YearStart   int      `json:"year_start" jsonschema_description:"First year to include, or 0 for no lower bound"`
	YearEnd     int      `json:"year_end" jsonschema_description:"Last year to include, or 0 for no upper bound"`
	CatchAreas  []string `json:"catch_areas" jsonschema_description:"Catch areas from the known list, empty for all areas"`
	Species     []string `json:"species" jsonschema_description:"Lowercase species names (chinook, coho, chum, pink, sockeye, lingcod, halibut), empty for the default salmon set"`
	UserMessage string   `json:"user_message" jsonschema_description:"A short message to show back to the user in their original language"`
}

// Filter converts the agent's answer into a query filter. Unknown species
// are rejected here so they never reach the store.
func (a *AgentResponse) Filter() (entities.QueryFilter, error) {
	var f entities.QueryFilter
	if a.YearStart > 0 {
		y := a.YearStart
		f.YearStart = &y
	}
	if a.YearEnd > 0 {
		y := a.YearEnd
		f.YearEnd = &y
	}
	for _, area := range a.CatchAreas {
		if area = strings.TrimSpace(area); area != "" {
			f.Areas = append(f.Areas, area)
		}
	}
	for _, s := range a.Species {
		sp, err := entities.ParseSpecies(s)
		if err != nil {
			return entities.QueryFilter{}, err
		}
		f.Species = append(f.Species, sp)
	}
	return f, nil
}

// OpenAIService defines the interface for interacting with the OpenAI agent.
type OpenAIService interface {
	InterpretUserQuery(ctx context.Context, userMessage string, knownAreas []string) (*AgentResponse, error)
}

// openAIServiceImpl implements the OpenAIService interface.
type openAIServiceImpl struct {
	client openai.Client
	schema interface{}
	logger zerolog.Logger
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewOpenAIService creates and initializes a new OpenAIService.
func NewOpenAIService(apiKey string, logger zerolog.Logger, opts ...option.RequestOption) (OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	schema := GenerateSchema[AgentResponse]()

	return &openAIServiceImpl{
		client: client,
		schema: schema,
		logger: logger,
	}, nil
}

// InterpretUserQuery sends a message to the OpenAI agent and returns the structured response.
func (s *openAIServiceImpl) InterpretUserQuery(ctx context.Context, userMessage string, knownAreas []string) (*AgentResponse, error) {
	systemPrompt := fmt.Sprintf(`You are a terse assistant for Puget Sound recreational fishing creel survey data collected by WDFW.

Your job is to turn a user's question into a query over the survey data.

Known catch areas: %s
Known species: chinook, coho, chum, pink, sockeye, lingcod, halibut

Behavior:
1. If the user asks for overall numbers (totals, how many surveys, anglers), command_name = "Stats".
2. If the user asks where fish are caught or compares areas, command_name = "Areas".
3. If the user asks which species are caught most, command_name = "Species".
4. If the user asks how catches change over years, command_name = "Yearly".
5. Anything else (greetings, small talk, off-topic), command_name = "GeneralQuery".

Fill year_start/year_end only when the user names years, otherwise use 0.
Only use catch areas from the known list; leave catch_areas empty otherwise.
user_message: one short line in the user's language.

Output **strictly** in JSON.`, knownAreas)

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "creel_query",
		Description: openai.String("Structured query over creel survey data"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: respFormat,
		Model:          openai.ChatModelGPT4o,
	})

	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	var agentResp AgentResponse
	err = json.Unmarshal([]byte(chat.Choices[0].Message.Content), &agentResp)
	if err != nil {
		s.logger.Error().Err(err).Str("raw", chat.Choices[0].Message.Content).Msg("Failed to unmarshal OpenAI response")
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}

	return &agentResp, nil
}
