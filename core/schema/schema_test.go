// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateResourceConfig(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	require.True(t, v.HasSchema(ResourceSchemaID))

	valid := `{
		"primaryKey": "id",
		"dataSources": {"primary": {"type": "memory", "table": "article"}},
		"attributes": {
			"id": {"type": "int", "filter": ["equal"], "order": true},
			"author": {"resource": "user", "parentKey": "authorId", "childKey": "id"}
		}
	}`
	assert.NoError(t, v.ValidateString(valid, ResourceSchemaID))

	invalidOperator := `{
		"primaryKey": "id",
		"dataSources": {"primary": {"type": "memory"}},
		"attributes": {"id": {"filter": ["resembles"]}}
	}`
	assert.Error(t, v.ValidateString(invalidOperator, ResourceSchemaID))

	unknownField := `{"primaryKey": "id", "wat": true}`
	assert.Error(t, v.ValidateString(unknownField, ResourceSchemaID))
}

func TestValidatorUnknownSchema(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.Error(t, v.ValidateString("{}", "https://nowhere/none.json"))
}

func TestValidatorCustomSchema(t *testing.T) {
	custom := `{
		"$id": "https://tessella.io/schemas/test.json",
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`
	v, err := NewValidator(custom)
	require.NoError(t, err)
	assert.NoError(t, v.ValidateString(`{"name": "x"}`, "https://tessella.io/schemas/test.json"))
	assert.Error(t, v.ValidateString(`{}`, "https://tessella.io/schemas/test.json"))
}
