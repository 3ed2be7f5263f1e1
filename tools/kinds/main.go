// kinds checks a kinds configuration file and prints the resulting field
// descriptors, including the implicit fields and the attachment kind.
//
//	go run ./tools/kinds -file kinds.json -schemas ./schemas
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/schema"
)

var (
	file    = flag.String("file", "kinds.json", "the kinds configuration")
	schemas = flag.String("schemas", "", "an optional directory of JSON schemas")
)

func main() {
	flag.Parse()
	rlog := logger.Default()

	data, err := os.ReadFile(*file)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot read", *file)
	}
	registry, err := fields.ParseConfiguration(string(data))
	if err != nil {
		rlog.WithError(err).Fatalln("invalid configuration")
	}

	var validator *schema.Validator
	if *schemas != "" {
		if validator, err = schema.NewValidatorFromFS(os.DirFS(*schemas)); err != nil {
			rlog.WithError(err).Fatalln("invalid schemas")
		}
	}

	failed := false
	for _, name := range registry.Kinds() {
		k, _ := registry.Kind(name)
		fmt.Printf("%s (display %s, filter %s)\n", k.Name, k.DisplayField, strings.Join(k.FilterFields, ","))
		if k.SchemaID != "" && (validator == nil || !validator.HasSchema(k.SchemaID)) {
			rlog.Errorf("kind %s: schema %s not found", k.Name, k.SchemaID)
			failed = true
		}
		for _, d := range k.Describe() {
			line := fmt.Sprintf("  %-24s %s", d.Name, d.Type)
			if d.Kind != "" {
				line += " -> " + d.Kind
			}
			if d.Required {
				line += " required"
			}
			if d.Unique {
				line += " unique"
			}
			if d.ReadOnly {
				line += " read-only"
			}
			fmt.Println(line)
		}
	}
	if failed {
		os.Exit(1)
	}
}
