package fixtures

import _ "embed"

// BlogSchemaYAML is the declaration file equivalent of BlogModels, with
// serializers and sortable columns.
//
//go:embed blog.schema.yaml
var BlogSchemaYAML []byte
