package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orangootan/remote/pkg/remote"
)

var (
	callObject   string
	callPath     string
	callFunction string
	callArgs     []string
	callKwargs   []string
	callProperty bool
	callItem     bool
	callNoCache  bool
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Run one call and print its result as JSON",
	Long: `Runs a function found at --path, or a method of the object --object, and
prints the interpreted result. Arguments are JSON values.

Example:
  remotectl call --path math --function add --arg 2 --arg 3
  remotectl call --object o1 --function join --kwarg 'how="left"'`,
	RunE: runCall,
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the digest and wire form of a call without sending it",
	RunE:  runFingerprint,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all objects held by the server",
	RunE:  runClear,
}

func callFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&callObject, "object", "", "id of the receiver object")
	cmd.Flags().StringVar(&callPath, "path", "", "dotted path of the function")
	cmd.Flags().StringVar(&callFunction, "function", "", "function, method or attribute name")
	cmd.Flags().StringArrayVar(&callArgs, "arg", nil, "positional argument as JSON (repeatable)")
	cmd.Flags().StringArrayVar(&callKwargs, "kwarg", nil, "keyword argument as name=JSON (repeatable)")
	cmd.Flags().BoolVar(&callProperty, "property", false, "read an attribute instead of calling")
	cmd.Flags().BoolVar(&callItem, "item", false, "index the object")
	cmd.Flags().BoolVar(&callNoCache, "no-cache", false, "skip the response cache")
}

func buildCall() (call remote.Call, err error) {
	call = remote.Call{
		ObjectID:   callObject,
		Path:       callPath,
		Function:   callFunction,
		IsProperty: callProperty,
		IsItem:     callItem,
	}
	if callNoCache {
		off := false
		call.Cache = &off
	}
	for _, arg := range callArgs {
		var value any
		err = json.Unmarshal([]byte(arg), &value)
		if err != nil {
			return call, fmt.Errorf("argument %q: %w", arg, err)
		}
		call.Args = append(call.Args, value)
	}
	for _, kwarg := range callKwargs {
		name, raw, ok := strings.Cut(kwarg, "=")
		if !ok || name == "" {
			return call, fmt.Errorf("keyword argument %q is not name=JSON", kwarg)
		}
		var value any
		err = json.Unmarshal([]byte(raw), &value)
		if err != nil {
			return call, fmt.Errorf("keyword argument %q: %w", name, err)
		}
		if call.Kwargs == nil {
			call.Kwargs = make(map[string]any)
		}
		call.Kwargs[name] = value
	}
	return call, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	call, err := buildCall()
	if err != nil {
		return err
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()
	value, err := client.Do(cmd.Context(), call)
	if err != nil {
		return err
	}
	return printJSON(cmd, value)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	call, err := buildCall()
	if err != nil {
		return err
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()
	req, err := client.Request(call)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), req.Digest)
	return printJSON(cmd, req)
}

func runClear(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Clear(cmd.Context())
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
