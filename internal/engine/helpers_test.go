package engine

import "github.com/orchestra-dev/orchestra/internal/workflow"

func parseTestDefinition(doc string) (*workflow.Definition, error) {
	return workflow.ParseYAML([]byte(doc))
}
