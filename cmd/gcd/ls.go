package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

func (c maincmd) ls(ctx context.Context, args []string) error {
	var namespace string
	switch len(args) {
	case 0:
	case 1:
		namespace = args[0]
	default:
		return errors.New("usage: ls [NAMESPACE]")
	}

	children, err := c.s.List(ctx, namespace)
	if err != nil {
		return errors.Wrapf(err, "listing %q", namespace)
	}
	for _, child := range children {
		if namespace != "" {
			child = namespace + "." + child
		}
		fmt.Fprintln(c.out, child)
	}
	return nil
}
