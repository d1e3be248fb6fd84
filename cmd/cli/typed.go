package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/and161185/lotus-core/internal/convert"
	grpcserver "github.com/and161185/lotus-core/internal/server/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

var errUnknownCommand = errors.New("unknown command")

// ------- flag sets -------

// stringFields registers one string flag per wire field. Only flags given on
// the command line end up in the request, so updates stay partial.
type stringFields struct {
	fs     *flag.FlagSet
	values map[string]*string
	flags  map[string]string // flag name -> wire field
}

func newStringFields(fs *flag.FlagSet) *stringFields {
	return &stringFields{fs: fs, values: map[string]*string{}, flags: map[string]string{}}
}

func (s *stringFields) add(flagName, field, usage string) {
	s.values[field] = s.fs.String(flagName, "", usage)
	s.flags[flagName] = field
}

func (s *stringFields) into(m map[string]any) {
	s.fs.Visit(func(f *flag.Flag) {
		if field, ok := s.flags[f.Name]; ok {
			m[field] = *s.values[field]
		}
	})
}

func profileFlags(fs *flag.FlagSet) *stringFields {
	s := newStringFields(fs)
	s.add("id", convert.FieldID, "student id")
	s.add("key", convert.FieldIdempotencyKey, "idempotency key")
	s.add("username", convert.FieldUsername, "username")
	s.add("password", convert.FieldPassword, "password")
	s.add("name", convert.FieldName, "first name")
	s.add("surname", convert.FieldSurname, "surname")
	s.add("email", convert.FieldEmail, "email")
	s.add("faculty", convert.FieldFaculty, "faculty")
	s.add("department", convert.FieldDepartment, "department")
	s.add("internship-status", convert.FieldInternshipStatus, "internship status")
	return s
}

type pageFlags struct {
	page, size *int
	sort, dir  *string
}

func addPageFlags(fs *flag.FlagSet) *pageFlags {
	return &pageFlags{
		page: fs.Int("page", 0, "zero-based page"),
		size: fs.Int("size", 0, "page size (server default when 0)"),
		sort: fs.String("sort", "", "sort field"),
		dir:  fs.String("dir", "", "asc|desc"),
	}
}

func (p *pageFlags) into(m map[string]any) {
	m[convert.FieldPage] = *p.page
	if *p.size > 0 {
		m[convert.FieldSize] = *p.size
	}
	if *p.sort != "" {
		m[convert.FieldSortBy] = *p.sort
	}
	if *p.dir != "" {
		m[convert.FieldDirection] = *p.dir
	}
}

// ------- request builder -------

// buildRequest maps a subcommand and its arguments to an RPC method and message.
func buildRequest(cmd string, args []string) (string, *structpb.Struct, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	m := map[string]any{}

	var method string
	var fill func()
	switch cmd {
	case "create", "update":
		method = grpcserver.MethodCreateStudent
		if cmd == "update" {
			method = grpcserver.MethodUpdateStudent
		}
		pf := profileFlags(fs)
		fill = func() { pf.into(m) }
	case "delete", "get":
		method = grpcserver.MethodDeleteStudent
		if cmd == "get" {
			method = grpcserver.MethodGetStudent
		}
		id := fs.String("id", "", "student id")
		fill = func() { m[convert.FieldID] = *id }
	case "list":
		method = grpcserver.MethodListStudents
		filters := newStringFields(fs)
		filters.add("faculty", convert.FieldFaculty, "faculty equals")
		filters.add("department", convert.FieldDepartment, "department equals")
		filters.add("internship-status", convert.FieldInternshipStatus, "internship status equals")
		pg := addPageFlags(fs)
		fill = func() { filters.into(m); pg.into(m) }
	case "search":
		method = grpcserver.MethodSearchStudents
		q := fs.String("q", "", "free text")
		pg := addPageFlags(fs)
		fill = func() { m[convert.FieldText] = *q; pg.into(m) }
	case "suggest":
		method = grpcserver.MethodSuggestStudents
		prefix := fs.String("prefix", "", "prefix")
		limit := fs.Int("limit", 0, "max results (server default when 0)")
		fill = func() {
			m[convert.FieldPrefix] = *prefix
			if *limit > 0 {
				m[convert.FieldLimit] = *limit
			}
		}
	case "rebuild":
		method = grpcserver.MethodRebuildProjections
		fill = func() {}
	default:
		return "", nil, fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}

	if err := fs.Parse(args); err != nil {
		return "", nil, fmt.Errorf("%s: %w", cmd, err)
	}
	fill()
	if id, _ := m[convert.FieldID].(string); id == "" && (cmd == "delete" || cmd == "get" || cmd == "update") {
		return "", nil, fmt.Errorf("%s: need -id", cmd)
	}
	req, err := structpb.NewStruct(m)
	if err != nil {
		return "", nil, err
	}
	return method, req, nil
}
