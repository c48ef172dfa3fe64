// Copyright 2025 biosgen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"modernc.org/cc/v4"
	cctoken "modernc.org/token"
)

// targetArch is the only architecture trampolines are generated for.
const targetArch = "arm"

type TranslateUnit struct {
	Source       string
	OutputDir    string
	Base         string
	Package      string
	IncludePaths []string
	TargetOS     string
	Config       Config
	backend      Backend
	logger       *slog.Logger
}

// GeneratedFile is one output file, kept in memory until every unit of a run
// has been translated.
type GeneratedFile struct {
	Path    string
	Content []byte
}

func NewTranslateUnit(source string, outputDir string, config Config, logger *slog.Logger) (*TranslateUnit, error) {
	backend, err := GetBackend(config.Backend)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	sourceExt := filepath.Ext(source)
	noExtSourceBase := filepath.Base(source[:len(source)-len(sourceExt)])
	pkg := config.Package
	if pkg == "" {
		pkg = filepath.Base(outputDir)
	}
	return &TranslateUnit{
		Source:       source,
		OutputDir:    outputDir,
		Base:         noExtSourceBase,
		Package:      pkg,
		IncludePaths: config.IncludePaths,
		TargetOS:     config.TargetOS,
		Config:       config,
		backend:      backend,
		logger:       logger.With("source", source),
	}, nil
}

// path returns the output path of the generated file with the given suffix.
func (t *TranslateUnit) path(suffix string) string {
	return filepath.Join(t.OutputDir, t.Base+suffix)
}

// Parameter types of the 32-bit target that occupy two registers.
var wideTypes = map[string]bool{
	"int64_t":            true,
	"uint64_t":           true,
	"long long":          true,
	"long long int":      true,
	"unsigned long long": true,
	"signed long long":   true,
	"double":             true,
	"u64":                true,
	"s64":                true,
}

type ParameterType struct {
	Type    string
	Pointer bool
}

// Size returns the number of bytes the parameter takes in the argument
// registers.
func (p ParameterType) Size() int {
	if !p.Pointer && wideTypes[p.Type] {
		return 2 * wordSize
	}
	return wordSize
}

type Parameter struct {
	Name string
	ParameterType
}

// Function is a C function definition of the translated unit.
type Function struct {
	Name         string
	Position     token.Position
	Type         string
	Parameters   []Parameter
	Signature    string
	Static       bool
	Capabilities Capability
	Options      OptionSet

	directives []directive
	// byte offsets into the unit's source
	start, nameOffset, bodyOffset int
}

// Unit is a translated source: the source after with_shim expansion, every
// function it defines, and the synthesized trampolines in source order.
type Unit struct {
	Source     []byte
	Functions  []*Function
	Syntheses  []Synthesis
	References []ShimReference
}

// prologue provides <stdint.h> names for the 32-bit target so sources parse
// without a cross sysroot.
const prologue = `typedef signed char int8_t;
typedef short int16_t;
typedef int int32_t;
typedef long long int64_t;
typedef unsigned char uint8_t;
typedef unsigned short uint16_t;
typedef unsigned int uint32_t;
typedef unsigned long long uint64_t;
`

// parseSource parses the C source and extracts function definitions.
func (t *TranslateUnit) parseSource(src []byte) ([]*Function, error) {
	cfg, err := cc.NewConfig(t.TargetOS, targetArch)
	if err != nil {
		return nil, err
	}
	if len(t.IncludePaths) > 0 {
		cfg.SysIncludePaths = append(t.IncludePaths, cfg.SysIncludePaths...)
	}
	ast, err := cc.Parse(cfg, []cc.Source{
		{Name: "<predefined>", Value: cfg.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
		{Name: "<prologue>", Value: prologue},
		{Name: t.Source, Value: string(src)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse source file %v: %w", t.Source, err)
	}
	var functions []*Function
	for tu := ast.TranslationUnit; tu != nil; tu = tu.TranslationUnit {
		externalDeclaration := tu.ExternalDeclaration
		if externalDeclaration.Position().Filename == t.Source && externalDeclaration.Case == cc.ExternalDeclarationFuncDef {
			function, err := t.convertFunction(src, externalDeclaration.FunctionDefinition)
			if err != nil {
				return nil, err
			}
			functions = append(functions, function)
		}
	}
	sort.Slice(functions, func(i, j int) bool {
		return functions[i].start < functions[j].start
	})
	return functions, nil
}

// sourcePosition converts a parser position into the position type used by
// diagnostics.
func sourcePosition(pos cctoken.Position) token.Position {
	return token.Position{Filename: pos.Filename, Offset: pos.Offset, Line: pos.Line, Column: pos.Column}
}

// offsetOf converts a line/column position back into a byte offset of src.
func offsetOf(src []byte, pos token.Position) int {
	offset := 0
	for line := 1; line < pos.Line; line++ {
		i := bytes.IndexByte(src[offset:], '\n')
		if i < 0 {
			return len(src)
		}
		offset += i + 1
	}
	return min(offset+pos.Column-1, len(src))
}

var (
	storageWords = regexp.MustCompile(`\b(static|extern|inline|__inline__|__inline|_Noreturn)\b`)
	staticWord   = regexp.MustCompile(`\bstatic\b`)
	spaces       = regexp.MustCompile(`\s+`)
)

// convertFunction extracts a function definition from cc.FunctionDefinition.
func (t *TranslateUnit) convertFunction(src []byte, functionDefinition *cc.FunctionDefinition) (*Function, error) {
	directDeclarator := functionDefinition.Declarator.DirectDeclarator
	position := directDeclarator.Position()
	if directDeclarator.Case != cc.DirectDeclaratorFuncParam && directDeclarator.Case != cc.DirectDeclaratorFuncIdent {
		return nil, fmt.Errorf("%v:%v:%v: error: unsupported function declarator: %v",
			position.Filename, position.Line, position.Column, directDeclarator.Case)
	}
	if directDeclarator.DirectDeclarator.Case != cc.DirectDeclaratorIdent {
		return nil, fmt.Errorf("%v:%v:%v: error: unsupported function declarator: %v",
			position.Filename, position.Line, position.Column, directDeclarator.DirectDeclarator.Case)
	}
	nameToken := directDeclarator.DirectDeclarator.Token
	name := nameToken.SrcStr()
	namePosition := sourcePosition(nameToken.Position())

	start := offsetOf(src, sourcePosition(functionDefinition.Position()))
	nameOffset := offsetOf(src, namePosition)
	bodyOffset := offsetOf(src, sourcePosition(functionDefinition.CompoundStatement.Position()))
	if !bytes.HasPrefix(src[nameOffset:], []byte(name)) || start > nameOffset || nameOffset > bodyOffset {
		return nil, fmt.Errorf("%v:%v:%v: error: cannot locate definition of %v (macro expansion?)",
			namePosition.Filename, namePosition.Line, namePosition.Column, name)
	}

	var params []Parameter
	if directDeclarator.Case == cc.DirectDeclaratorFuncParam && directDeclarator.ParameterTypeList != nil {
		var err error
		if params, err = t.convertFunctionParameters(directDeclarator.ParameterTypeList.ParameterList); err != nil {
			return nil, err
		}
	}
	if len(params) == 1 && params[0].Type == "void" && !params[0].Pointer && params[0].Name == "" {
		params = nil
	}

	prefix := string(src[start:nameOffset])
	returnType := strings.TrimSpace(spaces.ReplaceAllString(storageWords.ReplaceAllString(prefix, ""), " "))

	directives, err := parseDirectives(t.Source, src, start)
	if err != nil {
		return nil, err
	}
	caps, options, err := capabilities(directives)
	if err != nil {
		return nil, err
	}
	return &Function{
		Name:         name,
		Position:     namePosition,
		Type:         returnType,
		Parameters:   params,
		Signature:    strings.TrimSpace(string(src[start:bodyOffset])),
		Static:       staticWord.MatchString(prefix),
		Capabilities: caps,
		Options:      options,
		directives:   directives,
		start:        start,
		nameOffset:   nameOffset,
		bodyOffset:   bodyOffset,
	}, nil
}

// convertFunctionParameters extracts function parameters from cc.ParameterList.
func (t *TranslateUnit) convertFunctionParameters(params *cc.ParameterList) ([]Parameter, error) {
	var parameters []Parameter
	for ; params != nil; params = params.ParameterList {
		declaration := params.ParameterDeclaration
		var typeParts []string
		for specifiers := declaration.DeclarationSpecifiers; specifiers != nil; specifiers = specifiers.DeclarationSpecifiers {
			if specifiers.Case == cc.DeclarationSpecifiersTypeSpec && specifiers.TypeSpecifier != nil {
				if s := specifiers.TypeSpecifier.Token.SrcStr(); s != "" {
					typeParts = append(typeParts, s)
				}
			}
		}
		parameter := Parameter{ParameterType: ParameterType{Type: strings.Join(typeParts, " ")}}
		switch {
		case declaration.Declarator != nil:
			parameter.Name = declaration.Declarator.DirectDeclarator.Token.SrcStr()
			parameter.Pointer = declaration.Declarator.Pointer != nil
		case declaration.AbstractDeclarator != nil:
			parameter.Pointer = declaration.AbstractDeclarator.Pointer != nil
		}
		parameters = append(parameters, parameter)
	}
	return parameters, nil
}

// Translate runs the whole pipeline in memory. On error no file is returned.
func (t *TranslateUnit) Translate() ([]GeneratedFile, error) {
	raw, err := os.ReadFile(t.Source)
	if err != nil {
		return nil, err
	}
	src, refs, err := ExpandShimReferences(t.Source, raw)
	if err != nil {
		return nil, err
	}
	functions, err := t.parseSource(src)
	if err != nil {
		return nil, err
	}
	unit, err := t.synthesize(src, functions, refs)
	if err != nil {
		return nil, err
	}
	return t.backend.Emit(t, unit)
}

// synthesize transforms every check_callsite function of the unit. All
// diagnostics are collected before failing.
func (t *TranslateUnit) synthesize(src []byte, functions []*Function, refs []ShimReference) (*Unit, error) {
	registry, err := t.Config.Registry()
	if err != nil {
		return nil, err
	}
	synthesizer := &Synthesizer{
		SafetyEntry:     t.Config.SafetyEntry,
		StrictModifiers: t.Config.StrictModifiers,
		Logger:          t.logger,
	}
	defined := make(map[string]bool, len(functions))
	for _, function := range functions {
		defined[function.Name] = true
	}

	unit := &Unit{Source: src, Functions: functions, References: refs}
	var errs []error
	for _, function := range functions {
		if !function.Capabilities.Has(CapCheckCallsite) {
			continue
		}
		if implName := ImplementationName(function.Name); defined[implName] {
			errs = append(errs, newDiagnostic(function.Position, ErrNameCollision, "%v", implName))
			continue
		}
		synthesis, err := synthesizer.Synthesize(function)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		registry.Record(synthesis.Trampoline.Name)
		unit.Syntheses = append(unit.Syntheses, synthesis)
	}
	if t.Config.CheckShims {
		for _, ref := range refs {
			if err := registry.Check(ref); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	t.logger.Debug("translated unit", "functions", len(functions),
		"trampolines", len(unit.Syntheses), "shim references", len(refs))
	return unit, nil
}

// writeHeader writes the generated-code banner using the comment leader of
// the target language.
func (t *TranslateUnit) writeHeader(builder *strings.Builder, comment string) {
	builder.WriteString(fmt.Sprintf("%s Code generated by biosgen. DO NOT EDIT.\n", comment))
	builder.WriteString(fmt.Sprintf("%s backend: %v\n", comment, t.backend.Name()))
	builder.WriteString(fmt.Sprintf("%s safety entry: %v\n", comment, t.Config.SafetyEntry))
	builder.WriteString(fmt.Sprintf("%s source: %v\n", comment, t.Source))
	builder.WriteRune('\n')
}

// writeFiles commits generated files to disk.
func writeFiles(logger *slog.Logger, files []GeneratedFile) error {
	for _, file := range files {
		if err := os.MkdirAll(filepath.Dir(file.Path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(file.Path, file.Content, 0644); err != nil {
			return err
		}
		logger.Debug("wrote file", "path", file.Path, "bytes", len(file.Content))
	}
	return nil
}

// translateAll translates every source concurrently and writes the results
// only if all of them succeeded.
func translateAll(sources []string, output string, config Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	units := make([]*TranslateUnit, len(sources))
	for i, source := range sources {
		unit, err := NewTranslateUnit(source, output, config, logger)
		if err != nil {
			return err
		}
		units[i] = unit
	}
	results := make([][]GeneratedFile, len(units))
	var group errgroup.Group
	for i, unit := range units {
		i, unit := i, unit
		group.Go(func() error {
			files, err := unit.Translate()
			results[i] = files
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	for _, files := range results {
		if err := writeFiles(logger, files); err != nil {
			return err
		}
	}
	return nil
}

var verbose bool

var command = &cobra.Command{
	Use:   "biosgen source... [-o output_directory]",
	Short: "Generate BIOS call-site trampolines for 32-bit ARM C sources",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		configPath, _ := cmd.PersistentFlags().GetString("config")
		config, err := LoadConfig(configPath)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		flags := cmd.PersistentFlags()
		if flags.Changed("backend") {
			config.Backend, _ = flags.GetString("backend")
		}
		if flags.Changed("safety-entry") {
			config.SafetyEntry, _ = flags.GetString("safety-entry")
		}
		if flags.Changed("strict") {
			config.StrictModifiers, _ = flags.GetBool("strict")
		}
		if flags.Changed("check-shims") {
			config.CheckShims, _ = flags.GetBool("check-shims")
		}
		if flags.Changed("package") {
			config.Package, _ = flags.GetString("package")
		}
		if flags.Changed("target-os") {
			config.TargetOS, _ = flags.GetString("target-os")
		}
		includePaths, _ := flags.GetStringSlice("include-path")
		config.IncludePaths = append(config.IncludePaths, includePaths...)
		if err := config.Validate(); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		output, _ := flags.GetString("output")
		if output == "" {
			if output, err = os.Getwd(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
		if err := translateAll(args, output, config, logger); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	command.PersistentFlags().StringP("output", "o", "", "output directory of generated files")
	command.PersistentFlags().StringP("backend", "b", "c", "output backend (c, gas, goasm)")
	command.PersistentFlags().String("config", "", "configuration file (default "+ConfigFilename+" if present)")
	command.PersistentFlags().String("safety-entry", DefaultSafetyEntry, "symbol every trampoline branches to")
	command.PersistentFlags().Bool("strict", false, "reject unknown check_callsite modifiers")
	command.PersistentFlags().Bool("check-shims", false, "reject with_shim references to unknown trampolines")
	command.PersistentFlags().String("package", "", "Go package of goasm stubs (default: output directory name)")
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "if set, increase verbosity level")
	command.PersistentFlags().String("target-os", "", "target operating system for the C parser")
	command.PersistentFlags().StringSliceP("include-path", "I", nil, "additional include path for C parser")
}

func main() {
	if err := command.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
