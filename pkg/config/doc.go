// Package config holds the run configuration of a flow environment.
//
// A RunContext names the flow file to load and the executor and runner that run it.
// Load builds one from three layers, lowest precedence first:
//
//   - DefaultRunContext
//   - an optional CUE file checked against the embedded #RunContext schema
//   - FLOWENV_FLOW_FILE_PATH, FLOWENV_EXECUTOR, FLOWENV_RUNNER and FLOWENV_MAX_WORKERS
//
// A configuration file looks like:
//
//	flow_file_path: "/root/.prefect/flows/etl.prefect"
//	engine: {
//	    executor:    "parallel"
//	    max_workers: 4
//	}
//	parameters: region: "eu-west-1"
//
// Unknown fields are rejected. Errors carry the file position reported by CUE.
package config
