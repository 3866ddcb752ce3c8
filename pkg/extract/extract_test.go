package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

var artistSchema = Schema{
	Name: "ArtistInfo",
	Fields: []Field{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "band", Type: TypeString, Required: true},
		{Name: "albums", Type: TypeStringList},
		{Name: "active", Type: TypeBool},
		{Name: "formed", Type: TypeNumber},
	},
}

type scriptedModel struct {
	reply  string
	err    error
	prompt []llms.MessageContent
}

func (m *scriptedModel) ChatJSON(ctx context.Context, messages []llms.MessageContent) (string, error) {
	m.prompt = messages
	return m.reply, m.err
}

func TestExtract(t *testing.T) {
	model := &scriptedModel{reply: `{"name":"John Bonham","band":"Led Zeppelin","formed":1968}`}
	extractor, err := New(model, artistSchema)
	require.NoError(t, err)

	record, err := extractor.Extract(context.Background(), "who drummed for Led Zeppelin?")
	require.NoError(t, err)
	assert.Equal(t, "John Bonham", record["name"])
	assert.Equal(t, "Led Zeppelin", record["band"])
	assert.Equal(t, float64(1968), record["formed"])

	require.Len(t, model.prompt, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.prompt[0].Role)
}

func TestExtractModelFailurePassesThrough(t *testing.T) {
	model := &scriptedModel{err: errors.New("backend down")}
	extractor, err := New(model, artistSchema)
	require.NoError(t, err)

	_, err = extractor.Extract(context.Background(), "anything")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrParseFailure)
}

func TestDecodeDropsUnknownFields(t *testing.T) {
	record, err := Decode(`{"name":"A","band":"B","fabricated":"x"}`, artistSchema)
	require.NoError(t, err)
	assert.NotContains(t, record, "fabricated")
}

func TestDecodeStripsFences(t *testing.T) {
	raw := "```json\n{\"name\":\"A\",\"band\":\"B\"}\n```"
	record, err := Decode(raw, artistSchema)
	require.NoError(t, err)
	assert.Equal(t, "A", record["name"])
}

func TestDecodeMissingRequiredFieldIsPartial(t *testing.T) {
	record, err := Decode(`{"name":"A","albums":["X","Y"]}`, artistSchema)
	require.ErrorIs(t, err, ErrParseFailure)

	// Best effort: the fields that did decode are still there.
	assert.Equal(t, "A", record["name"])
	assert.Equal(t, []string{"X", "Y"}, record["albums"])
	assert.NotContains(t, record, "band")
}

func TestDecodeTypeMismatchIsPartial(t *testing.T) {
	record, err := Decode(`{"name":"A","band":"B","formed":"nineteen sixty-eight"}`, artistSchema)
	require.ErrorIs(t, err, ErrParseFailure)
	assert.Equal(t, "A", record["name"])
	assert.NotContains(t, record, "formed")
}

func TestDecodeOmitsNullFields(t *testing.T) {
	record, err := Decode(`{"name":"A","band":"B","albums":null}`, artistSchema)
	require.NoError(t, err)
	assert.NotContains(t, record, "albums")
}

func TestDecodeNotJSON(t *testing.T) {
	_, err := Decode("I could not find an artist.", artistSchema)
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestDecodeListElementTypes(t *testing.T) {
	record, err := Decode(`{"name":"A","band":"B","albums":["X",2]}`, artistSchema)
	require.ErrorIs(t, err, ErrParseFailure)
	assert.NotContains(t, record, "albums")
}

func TestNewRejectsBadSchemas(t *testing.T) {
	_, err := New(&scriptedModel{}, Schema{})
	assert.Error(t, err)

	_, err = New(&scriptedModel{}, Schema{Fields: []Field{{Name: "a", Type: "map"}}})
	assert.Error(t, err)

	_, err = New(&scriptedModel{}, Schema{Fields: []Field{
		{Name: "a", Type: TypeString},
		{Name: "a", Type: TypeString},
	}})
	assert.Error(t, err)

	_, err = New(nil, artistSchema)
	assert.Error(t, err)
}
