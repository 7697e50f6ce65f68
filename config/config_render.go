package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

var (
	ErrMissingVars = fmt.Errorf("missing vars")
)

type FileData struct {
	Name    string
	Content string
}

// ConfigRender merges config files in order (later files win) and resolves
// {{var}} template tags against the merged values and the environment
type ConfigRender struct {
	// 0: default, 1: specific
	FilesData []FileData
	// Function to resolve environment variables typically: os.LookupEnv
	LookupEnvFunc     func(key string) (string, bool)
	EnvironmentPrefix string
}

func NewConfigRender(filesData []FileData, environmentPrefix string) *ConfigRender {
	return &ConfigRender{
		FilesData:         filesData,
		LookupEnvFunc:     os.LookupEnv,
		EnvironmentPrefix: environmentPrefix,
	}
}

// Render merges all files and resolves all variables inside
func (c *ConfigRender) Render() (string, error) {
	mergedData, err := c.Merge()
	if err != nil {
		return "", fmt.Errorf("fail to merge files. Err: %w", err)
	}
	return c.ResolveVars(mergedData)
}

// Merge loads each file on top of the previous ones and marshals the result
// back to TOML. Files named *.json are parsed as JSON, anything else as TOML.
func (c *ConfigRender) Merge() (string, error) {
	k := koanf.New(".")
	for _, data := range c.FilesData {
		err := k.Load(rawbytes.Provider([]byte(data.Content)), parserForFile(data.Name))
		if err != nil {
			return "", fmt.Errorf("fail to load file %s. Err: %w", data.Name, err)
		}
	}
	marshaled, err := k.Marshal(toml.Parser())
	if err != nil {
		return "", fmt.Errorf("fail to marshal to toml. Err: %w", err)
	}
	return string(marshaled), nil
}

// ResolveVars substitutes each {{tag}} with, in order of preference, the
// environment variable <prefix>_<tag> or the value defined in the merged
// config itself. Unresolved tags are an error.
func (c *ConfigRender) ResolveVars(fullConfigData string) (string, error) {
	tpl, err := fasttemplate.NewTemplate(fullConfigData, startTag, endTag)
	if err != nil {
		return "", fmt.Errorf("fail to load template. Err: %w", err)
	}
	k := koanf.New(".")
	err = k.Load(rawbytes.Provider([]byte(fullConfigData)), toml.Parser())
	if err != nil {
		return "", fmt.Errorf("fail to parse merged config. Err: %w", err)
	}
	valuesDefined := k.All()

	var unresolved []string
	rendered := tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if v, ok := c.findTagInEnvironment(tag); ok {
			return w.Write([]byte(v))
		}
		if v, ok := valuesDefined[tag]; ok {
			return w.Write([]byte(fmt.Sprintf("%v", v)))
		}
		if !contains(unresolved, tag) {
			unresolved = append(unresolved, tag)
		}
		return w.Write([]byte(startTag + tag + endTag))
	})
	if len(unresolved) > 0 {
		return rendered, fmt.Errorf("missing vars: %v. Err: %w", unresolved, ErrMissingVars)
	}
	return rendered, nil
}

func (c *ConfigRender) findTagInEnvironment(tag string) (string, bool) {
	envTag := c.EnvironmentPrefix + "_" + strings.ReplaceAll(tag, ".", "_")
	if v, ok := c.LookupEnvFunc(envTag); ok {
		return v, true
	}
	return "", false
}

func parserForFile(name string) koanf.Parser {
	if strings.HasSuffix(name, ".json") {
		return json.Parser()
	}
	return toml.Parser()
}

func contains(vars []string, search string) bool {
	for _, v := range vars {
		if v == search {
			return true
		}
	}
	return false
}

func readFileToString(filename string) (string, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
