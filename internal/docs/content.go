package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with patchr",
		Content: topicQuickstart,
		SeeAlso: []string{"config", "pipeline"},
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Config file schema, environment overrides, and defaults",
		Content: topicConfig,
		SeeAlso: []string{"quickstart"},
	},
	{
		Name:    "pipeline",
		Title:   "Pipeline and Retries",
		Summary: "Phases, the generate/validate loop, and failure kinds",
		Content: topicPipeline,
		SeeAlso: []string{"gate", "audit"},
	},
	{
		Name:    "gate",
		Title:   "Validation Gate",
		Summary: "Safety, destructive-write, syntax, and import checks",
		Content: topicGate,
		SeeAlso: []string{"pipeline"},
	},
	{
		Name:    "server",
		Title:   "HTTP API",
		Summary: "Endpoints served by patchr serve",
		Content: topicServer,
		SeeAlso: []string{"audit"},
	},
	{
		Name:    "audit",
		Title:   "Run Records",
		Summary: "What gets saved per run and where",
		Content: topicAudit,
		SeeAlso: []string{"server"},
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project:

    cd your-project
    patchr init

   This creates .patchr/config.yaml with the defaults.

2. Pick an LLM provider in .patchr/config.yaml (llm.provider). The
   default, claude-cli, needs the claude binary on PATH. anthropic and
   openai read their key from llm.api-key, ANTHROPIC_API_KEY or
   OPENAI_API_KEY.

3. Ask for a change:

    patchr run --prompt "add a weather agent that reads the city from argv"

   The proposed patch is printed as a unified diff and written to
   .patchr/runs/<id>/patch.diff. patchr never edits your files.

4. Inspect the run:

    patchr status            latest run
    patchr status <id>       a specific run
    patchr doctor <id>       ask the LLM why a run failed

CLI
---

  patchr run --prompt TEXT [--dir DIR | --zip FILE]   Run the pipeline
      --max-attempts N       Generation attempts (default from config, 4)
      --timeout D            Per-phase timeout, e.g. 90s or 5m
      --allow-destructive    Allow overwriting files without a modify task
      --out FILE             Also write the patch to FILE
      --trace                Print OpenTelemetry spans to stderr
  patchr serve [--addr :9000]   Start the HTTP API
  patchr status [id]            Show a recorded run
  patchr doctor [id]            Diagnose a failed run
  patchr init                   Scaffold .patchr/
  patchr config                 Print the effective configuration
  patchr docs [topic]           Show documentation

Global flags: --config FILE (default .patchr/config.yaml in the project
root, found by walking up from the working directory).
`

const topicConfig = `Configuration Reference
=======================

patchr reads .patchr/config.yaml. A missing file means all defaults.

pipeline
--------

  max-attempts      int        Generation attempts, 1..10. Default: 4.
  phase-timeout     duration   Limit for each phase call and each gate
                               call. Default: 5m.
  non-destructive   bool       Refuse patches that overwrite existing
                               files without a modify task. Default: true.
                               The instruction can also turn this on
                               ("don't touch existing files"); either
                               source is enough.

llm
---

  provider      string   anthropic, openai, claude-cli, or none.
                         Default: claude-cli.
  model         string   Default depends on the provider.
  api-key       string   Falls back to ANTHROPIC_API_KEY / OPENAI_API_KEY.
  rate          float    Requests per second across all phases. 0 disables.
  burst         int      Requests allowed at once. Default: 2.
  temperature   float    0..2. Default: 0.2.
  max-tokens    int      Reply limit. Default: 8192.

With provider none, EXTRACT uses a keyword heuristic and RECAP skips
the summary paragraph; DECOMPOSE and GENERATE need a model.

server
------

  addr            string   Listen address. Default: :9000.
  max-upload-mb   int      Largest accepted zip. Default: 25.

audit
-----

  backend   string   file or sqlite. Default: file.
  path      string   Default: .patchr/runs (file) or .patchr/audit.db
                     (sqlite). Relative paths are resolved against the
                     project root.

log
---

  level    string   debug, info, warn, error. Default: info.
  format   string   console or json. Default: console.

Environment overrides
---------------------

Every key can be set with a PATCHR_ variable. A double underscore
separates sections and a single underscore stands for a dash:

  PATCHR_PIPELINE__MAX_ATTEMPTS=6
  PATCHR_LLM__PROVIDER=anthropic
  PATCHR_LOG__FORMAT=json

patchr config prints the effective result with the API key redacted.
`

const topicPipeline = `Pipeline and Retries
====================

Each run passes through six positions in a fixed order:

  EXTRACT     Reads the instruction into structured constraints
              (project name, non-destructive, wants a new agent, brief).
  RECALL      Picks the most relevant paragraphs from README.md and docs/.
  DECOMPOSE   Breaks the request into tasks: [create path] or
              [modify path] plus a description.
  GENERATE    Writes the full content of every file it touches.
  VALIDATE    The gate (see: patchr docs gate) judges the patch.
  RECAP       Renders a Markdown summary of the accepted patch.

GENERATE and VALIDATE form a loop. A NEEDS_FIX verdict sends its
diagnostic and suggested dependencies back to GENERATE and uses one
attempt. A generation that times out or returns no files also uses an
attempt. Attempts are numbered from 1 in output; a run with
max-attempts 4 generates at most four times.

Failure kinds
-------------

  Precondition          Empty instruction, empty task list, or a phase
                        tried to overwrite a value set by an earlier one.
  PhaseFailed           A phase or the gate returned an error.
  Timeout               A phase other than GENERATE, or the gate, ran
                        past phase-timeout.
  ValidationExhausted   The last allowed attempt still needed fixes.
  UnsafeConstruct       The patch contains code that runs on import.
  DestructiveWrite      The patch overwrites a file it was not asked to
                        modify while non-destructive is on.
  Canceled              The run was interrupted (Ctrl-C, client gone).

UnsafeConstruct and DestructiveWrite are never retried.

Every phase call and gate call is recorded in the run's history with its
start time, duration, attempt and outcome.
`

const topicGate = `Validation Gate
===============

The gate checks a patch in a fixed order and stops at the first hard
violation:

1. Safety. Go files may not call os, os/exec, syscall, net, net/http or
   plugin from init functions, package-level initializers, or function
   literals those initializers call in place. Python files may only
   contain these at the top level:
     - imports, class and function definitions, docstrings
     - assignments, and __all__ += [...]
     - logging.basicConfig, logging.captureWarnings,
       warnings.filterwarnings and warnings.simplefilter calls
     - an if __name__ == "__main__" guard
     - an if TYPE_CHECKING: block of imports
     - a try/except block that only imports, assigns or passes
   None of them may call eval, exec, os.system, subprocess and the like,
   however the name was imported, or invoke a lambda in place. Imports
   inside a try or TYPE_CHECKING block are treated as optional and are
   not checked in step 4. Paths that are absolute or leave the project
   are rejected. -> FATAL UnsafeConstruct

2. Destructive write. With non-destructive on, every existing path in the
   patch needs a [modify path] task. -> FATAL DestructiveWrite

3. Syntax. Go, Python, YAML and JSON files must parse. -> NEEDS_FIX with
   path:line:col: message

4. Imports and tests. Go imports must be stdlib, inside the module, or
   required by go.mod. Python imports must be stdlib, local, or listed in
   requirements.txt / pyproject.toml. Go test functions must take
   *testing.T and files in one directory must agree on the package name.
   -> NEEDS_FIX listing what is missing, plus suggested dependencies

The gate never edits the patch. Suggested dependencies are passed to the
next generation, which may add them to the manifest itself.

The same patch always gets the same verdict, and the gate never uses the
network.
`

const topicServer = `HTTP API
========

patchr serve starts an HTTP server (server.addr, default :9000).

  GET  /health
      {"status":"ok"}

  POST /v1/apply
      multipart/form-data with:
        file     zip archive of the project (max server.max-upload-mb)
        prompt   the instruction
      200 {"id","recap","diff","attempts"}
      422 {"id","error","kind","phase","diagnostic"} when the run fails
      400 on a missing prompt, missing file, or unreadable archive
      413 when the upload is too large

  GET  /v1/runs/:id
      The stored run record (see: patchr docs audit), or 404.

  GET  /metrics
      Prometheus metrics: patchr_pipeline_runs_total,
      patchr_pipeline_phase_duration_seconds, patchr_gate_verdicts_total,
      patchr_pipeline_generations_per_run, patchr_pipeline_runs_in_flight.

Each request runs on its own blackboard. On SIGINT or SIGTERM the server
stops accepting connections and waits for running requests to finish.

Example:

    curl -F file=@project.zip -F prompt="add a health check" \
        http://localhost:9000/v1/apply
`

const topicAudit = `Run Records
===========

Every run, successful or not, is saved by the audit backend.

file backend (.patchr/runs/)
----------------------------

  .patchr/runs/<id>/
    record.json              the full record
    timing.json              start, end and duration of every call
    patch.diff               the last proposed patch
    feedback/attempt-N.md    the gate diagnostic that sent attempt N back

sqlite backend (.patchr/audit.db)
---------------------------------

One row per run in the runs table, with the record stored as JSON next
to indexed id, created, status, kind and attempt columns.

Record fields
-------------

  id, created, instruction, status (success | failed), failure_kind,
  failure_phase, diagnostic, attempt, generations, tasks, history,
  diagnostics, verdict, recap, diff

patchr status renders a record; patchr doctor sends a failed one to the
LLM for a diagnosis.
`
