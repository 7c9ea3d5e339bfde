package ldfeed_test

import (
	"context"
	"fmt"

	"github.com/zero-day-ai/ldfeed"
	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/document"
)

func ExamplePipeline_Validate() {
	desc := descriptor.MustNew(
		descriptor.TypeEntry{Name: "Movie", Category: descriptor.CategoryClass, Fields: []string{"@id", "name"}},
		descriptor.TypeEntry{Name: "name", Category: descriptor.CategoryProperty, Fields: []string{"Text"}},
		descriptor.TypeEntry{Name: "Text", Category: descriptor.CategoryPrimitive},
	)

	ctx := context.Background()
	p, err := ldfeed.New(ctx,
		ldfeed.WithDescriptor(desc),
		ldfeed.WithConstraints(constraint.BytesSource(`
shapes:
  - name: MovieShape
    targetClass: Movie
    properties:
      - path: name
        minCount: 1
        message: Movie name is required
`)))
	if err != nil {
		fmt.Println(err)
		return
	}

	r, err := p.Validate(ctx,
		document.Object{"@type": "Movie", "@id": "heat", "name": "Heat"},
		document.Object{"@type": "Movie", "@id": "untitled"},
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, rec := range r.Records["Movie"] {
		fmt.Println(rec.Source, rec.Path, rec.Severity, rec.Message)
	}
	// Output:
	// Id: untitled .name Violation Movie name is required
}
